package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/goccy/go-json"
)

var (
	// ErrUnsupportedCategory means the live source has no lookup for a category.
	ErrUnsupportedCategory = errors.New("live pricing not supported for category")
	// ErrNoPrice means the live source returned no usable on-demand price.
	ErrNoPrice = errors.New("no on-demand price found")
)

// LiveSource resolves a unit price from an authoritative remote source.
type LiveSource interface {
	Lookup(ctx context.Context, key Key) (float64, error)
}

// ProductsAPI is the subset of the AWS Price List client used here.
type ProductsAPI interface {
	GetProducts(ctx context.Context, params *awspricing.GetProductsInput, optFns ...func(*awspricing.Options)) (*awspricing.GetProductsOutput, error)
}

// PriceListSource looks up on-demand prices with the AWS Price List API.
// The API is only served from a few regions; the client should target us-east-1.
type PriceListSource struct {
	client ProductsAPI
}

// NewPriceListSource creates a live source over a Price List client.
func NewPriceListSource(client ProductsAPI) *PriceListSource {
	return &PriceListSource{client: client}
}

// Lookup returns the first positive hourly on-demand USD price matching key.
func (s *PriceListSource) Lookup(ctx context.Context, key Key) (float64, error) {
	serviceCode, filters, err := productFilters(key)
	if err != nil {
		return 0, err
	}

	out, err := s.client.GetProducts(ctx, &awspricing.GetProductsInput{
		ServiceCode: aws.String(serviceCode),
		Filters:     filters,
		MaxResults:  aws.Int32(10),
	})
	if err != nil {
		return 0, fmt.Errorf("get products %s %s in %s: %w", key.Category, key.Config, key.Region, err)
	}

	for _, doc := range out.PriceList {
		price, ok, err := onDemandHourly(doc)
		if err != nil {
			return 0, err
		}
		if ok {
			return price, nil
		}
	}
	return 0, fmt.Errorf("%s %s in %s: %w", key.Category, key.Config, key.Region, ErrNoPrice)
}

func productFilters(key Key) (string, []pricingtypes.Filter, error) {
	switch key.Category {
	case CategoryEC2:
		return "AmazonEC2", []pricingtypes.Filter{
			termMatch("instanceType", key.Config),
			termMatch("regionCode", key.Region),
			termMatch("operatingSystem", "Linux"),
			termMatch("tenancy", "Shared"),
			termMatch("preInstalledSw", "NA"),
			termMatch("capacitystatus", "Used"),
		}, nil
	case CategoryRDS:
		return "AmazonRDS", []pricingtypes.Filter{
			termMatch("instanceType", key.Config),
			termMatch("regionCode", key.Region),
			termMatch("databaseEngine", "MySQL"),
			termMatch("deploymentOption", "Single-AZ"),
		}, nil
	default:
		return "", nil, fmt.Errorf("%s: %w", key.Category, ErrUnsupportedCategory)
	}
}

func termMatch(field, value string) pricingtypes.Filter {
	return pricingtypes.Filter{
		Type:  pricingtypes.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

// priceListProduct is the part of a Price List product document read here.
type priceListProduct struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

func onDemandHourly(doc string) (float64, bool, error) {
	var p priceListProduct
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return 0, false, fmt.Errorf("parse price list document: %w", err)
	}
	for _, term := range p.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			if dim.Unit != "Hrs" {
				continue
			}
			amount, err := strconv.ParseFloat(dim.PricePerUnit["USD"], 64)
			if err != nil || amount <= 0 {
				continue
			}
			return amount, true, nil
		}
	}
	return 0, false, nil
}
