package aws

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// ClientFactory builds the narrow service clients analyzers depend on.
type ClientFactory interface {
	EC2(cfg aws.Config) EC2API
	RDS(cfg aws.Config) RDSAPI
	Lambda(cfg aws.Config) LambdaAPI
	ELB(cfg aws.Config) ELBAPI
	CloudWatch(cfg aws.Config) CloudWatchAPI
}

// SDKClients builds real AWS SDK clients.
type SDKClients struct{}

func (SDKClients) EC2(cfg aws.Config) EC2API               { return ec2.NewFromConfig(cfg) }
func (SDKClients) RDS(cfg aws.Config) RDSAPI               { return rds.NewFromConfig(cfg) }
func (SDKClients) Lambda(cfg aws.Config) LambdaAPI         { return lambda.NewFromConfig(cfg) }
func (SDKClients) ELB(cfg aws.Config) ELBAPI               { return elasticloadbalancingv2.NewFromConfig(cfg) }
func (SDKClients) CloudWatch(cfg aws.Config) CloudWatchAPI { return cloudwatch.NewFromConfig(cfg) }
