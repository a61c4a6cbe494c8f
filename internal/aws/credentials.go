package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/ppiankov/wastespectre/internal/model"
)

const (
	defaultSessionName = "wastespectre"
	assumeRoleDuration = time.Hour
)

// ErrNoCredentials means neither a role nor base credentials are configured.
var ErrNoCredentials = errors.New("no AWS credentials configured")

// STSAPI is the minimal interface for STS operations.
type STSAPI interface {
	AssumeRole(ctx context.Context, input *sts.AssumeRoleInput, opts ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, input *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// RoleResolver turns an account record into time-limited credentials.
// Accounts with a role ARN are assumed via STS; others use the base config's
// credential chain. Assumed-role providers are cached per role.
type RoleResolver struct {
	base   aws.Config
	newSTS func(aws.Config) STSAPI

	mu        sync.Mutex
	providers map[string]aws.CredentialsProvider
}

// NewRoleResolver creates a resolver over base.
func NewRoleResolver(base aws.Config) *RoleResolver {
	return &RoleResolver{
		base:      base,
		newSTS:    func(cfg aws.Config) STSAPI { return sts.NewFromConfig(cfg) },
		providers: make(map[string]aws.CredentialsProvider),
	}
}

// Resolve returns credentials for account in region. Credentials are
// retrieved eagerly so failures surface here rather than mid-analysis.
func (r *RoleResolver) Resolve(ctx context.Context, account model.Account, region string) (aws.CredentialsProvider, error) {
	if account.RoleARN == "" {
		if r.base.Credentials == nil {
			return nil, ErrNoCredentials
		}
		return r.base.Credentials, nil
	}

	key := account.RoleARN + "|" + account.ExternalID
	r.mu.Lock()
	provider, ok := r.providers[key]
	if !ok {
		stsClient := r.newSTS(regionConfig(r.base, region, nil))
		provider = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, account.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = account.SessionName
			if o.RoleSessionName == "" {
				o.RoleSessionName = defaultSessionName
			}
			if account.ExternalID != "" {
				o.ExternalID = aws.String(account.ExternalID)
			}
			o.Duration = assumeRoleDuration
		}))
		r.providers[key] = provider
	}
	r.mu.Unlock()

	if _, err := provider.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("assume role %s: %w", account.RoleARN, err)
	}
	return provider, nil
}

// CallerAccountID returns the account ID of the base credentials.
func CallerAccountID(ctx context.Context, client STSAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// NewSTSClient creates an STS client from cfg.
func NewSTSClient(cfg aws.Config) STSAPI {
	return sts.NewFromConfig(cfg)
}
