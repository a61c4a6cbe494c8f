package pricing

const gib = 1024 * 1024 * 1024

// rdsMemoryGiB maps RDS instance classes to their memory in GiB.
var rdsMemoryGiB = map[string]int64{
	"db.t2.micro":  1,
	"db.t2.medium": 4,
	"db.t3.micro":  1,
	"db.t3.small":  2,
	"db.t3.medium": 4,
	"db.t3.large":  8,
	"db.m4.large":  8,
	"db.m5.large":  8,
	"db.m5.xlarge": 16,
	"db.m6i.large": 8,
	"db.m6g.large": 8,
	"db.r4.large":  15,
	"db.r5.large":  16,
	"db.r5.xlarge": 32,
}

// RDSInstanceMemoryBytes returns the memory of an RDS instance class in bytes.
func RDSInstanceMemoryBytes(instanceClass string) (int64, bool) {
	g, ok := rdsMemoryGiB[instanceClass]
	if !ok {
		return 0, false
	}
	return g * gib, true
}
