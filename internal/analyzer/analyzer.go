// Package analyzer defines the resource analyzer contract, the registry the
// executor schedules from, and summarization of execution results.
package analyzer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/ppiankov/wastespectre/internal/model"
)

// ResourceAnalyzer inspects one category of resources in one region.
//
// Analyze must check opts.Budget before each expensive step and return the
// findings gathered so far once the budget is spent, without an error.
// A failure on a single resource is logged and skipped. A returned error
// means the whole task failed (credentials, region-wide outage).
type ResourceAnalyzer interface {
	Code() string
	Name() string
	Priority() int
	EstimatedDuration() time.Duration
	Analyze(ctx context.Context, creds aws.CredentialsProvider, region, accountID string, opts model.AnalyzeOptions) ([]model.WasteFinding, error)
}
