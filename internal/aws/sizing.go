package aws

import "strings"

// instanceSizes is the ascending size ladder shared by EC2 and RDS classes.
var instanceSizes = []string{
	"nano", "micro", "small", "medium", "large", "xlarge",
	"2xlarge", "4xlarge", "8xlarge", "12xlarge", "16xlarge", "24xlarge",
}

// successorFamilies maps previous-generation families to their replacement.
var successorFamilies = map[string]string{
	"t2": "t3",
	"m3": "m5",
	"m4": "m5",
	"c3": "c5",
	"c4": "c5",
	"r3": "r5",
	"r4": "r5",
	"i2": "i3",
	"d2": "d3",
}

// splitInstanceType splits "m5.large" into ("m5", "large") and
// "db.m5.large" into ("db.m5", "large").
func splitInstanceType(t string) (string, string) {
	i := strings.LastIndex(t, ".")
	if i <= 0 {
		return "", ""
	}
	return t[:i], t[i+1:]
}

// smallerInstanceType returns the next size down in the same family, or "".
func smallerInstanceType(t string) string {
	family, size := splitInstanceType(t)
	if family == "" {
		return ""
	}
	for i, s := range instanceSizes {
		if s == size && i > 0 {
			return family + "." + instanceSizes[i-1]
		}
	}
	return ""
}

// successorInstanceType returns the current-generation equivalent of a
// previous-generation type, or "".
func successorInstanceType(t string) string {
	family, size := splitInstanceType(t)
	prefix := ""
	if strings.HasPrefix(family, "db.") {
		prefix = "db."
		family = strings.TrimPrefix(family, "db.")
	}
	next, ok := successorFamilies[family]
	if !ok {
		return ""
	}
	return prefix + next + "." + size
}
