package pricing

import (
	_ "embed"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Price categories and their units:
//
//	ec2, rds, elb: USD per hour
//	lambda:        USD per GB-second, "requests" is USD per request
const (
	CategoryEC2    = "ec2"
	CategoryRDS    = "rds"
	CategoryLambda = "lambda"
	CategoryELB    = "elb"
)

const (
	// HoursPerMonth is the billing month used for all monthly estimates.
	HoursPerMonth = 730
	// SecondsPerMonth is HoursPerMonth in seconds.
	SecondsPerMonth = HoursPerMonth * 3600

	fallbackRegion = "us-east-1"
)

//go:embed prices.json
var pricingData []byte

// staticDB is keyed by category, then configuration, then region.
var staticDB map[string]map[string]map[string]float64

func init() {
	if err := json.Unmarshal(pricingData, &staticDB); err != nil {
		log.Warn().Err(err).Msg("Failed to parse embedded pricing data")
		staticDB = make(map[string]map[string]map[string]float64)
	}
}

// staticName is the table row for a config and billing mode. On-demand rows
// use the bare config; other modes use "config/mode".
func staticName(config, billingMode string) string {
	if billingMode == "" || billingMode == BillingOnDemand {
		return config
	}
	return config + "/" + billingMode
}

// LookupStatic returns the embedded unit price, falling back to us-east-1
// when the region is not in the table.
func LookupStatic(category, config, billingMode, region string) (float64, bool) {
	configs, ok := staticDB[category]
	if !ok {
		return 0, false
	}
	regions, ok := configs[staticName(config, billingMode)]
	if !ok {
		return 0, false
	}
	price, ok := regions[region]
	if !ok {
		price, ok = regions[fallbackRegion]
	}
	return price, ok
}

// MonthlyFromHourly converts an hourly price into a monthly cost.
func MonthlyFromHourly(hourly float64) float64 {
	return hourly * HoursPerMonth
}
