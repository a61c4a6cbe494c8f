package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	configFileName = ".wastespectre.yaml"
	policyFileName = "wastespectre-policy.json"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate sample config and IAM policy",
	Long:  `Creates a sample .wastespectre.yaml config file and an IAM policy JSON file for read-only access.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInit(cmd.OutOrStdout(), ".", initFlags.force)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "Overwrite existing files")
}

func runInit(out io.Writer, dir string, force bool) error {
	configPath := filepath.Join(dir, configFileName)
	policyPath := filepath.Join(dir, policyFileName)

	wrote := 0
	for _, f := range []struct{ path, content string }{
		{configPath, sampleConfig},
		{policyPath, sampleIAMPolicy},
	} {
		ok, err := writeIfNotExists(out, f.path, f.content, force)
		if err != nil {
			return err
		}
		if ok {
			wrote++
		}
	}

	if wrote > 0 {
		fmt.Fprintf(out, "Created %s and %s\n", configPath, policyPath)
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "  1. Edit .wastespectre.yaml to customize analysis settings")
		fmt.Fprintln(out, "  2. Apply wastespectre-policy.json to your AWS IAM role/user")
		fmt.Fprintln(out, "  3. Run: wastespectre scan")
	}
	return nil
}

func writeIfNotExists(out io.Writer, path, content string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Skipping %s (already exists, use --force to overwrite)\n", path)
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const sampleConfig = `# wastespectre configuration
# See: https://github.com/ppiankov/wastespectre

# AWS profile (or set AWS_PROFILE env var)
# profile: default

# Regions to scan (default: all enabled regions)
# regions:
#   - us-east-1
#   - eu-west-1

# Target account. With role_arn set the role is assumed for every region.
# account:
#   id: "123456789012"
#   role_arn: arn:aws:iam::123456789012:role/wastespectre
#   external_id: ""
#   session_name: wastespectre

executor:
  max_concurrency: 5
  deadline: 5m
  safety_margin: 2s
  grace_period: 5s
  budget_multiplier: 2
  # min_priority: 0

analysis:
  # standard or deep (adds agent memory metrics, 30+ day lookback, spike detection)
  depth: standard
  lookback_days: 14
  # max_resources: 500
  # idle_cpu_threshold: 5.0
  # high_memory_threshold: 50.0
  # stopped_threshold_days: 30

# risk:
#   weights:
#     utilization: 0.25
#     trend: 0.15
#     seasonality: 0.15
#     stability: 0.20
#     dependency: 0.15
#     data_quality: 0.10

pricing:
  cache_ttl: 24h
  live: true

# database:
#   dsn: postgres://wastespectre@localhost:5432/wastespectre

# Minimum monthly savings to report ($)
min_monthly_savings: 1.0

# Output format: text, json or sarif
format: text

# Resources to exclude from analysis
# exclude:
#   resource_ids:
#     - i-0abc123
#   tags:
#     - "Environment=production"
#     - "wastespectre:ignore"
`

const sampleIAMPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "WasteSpectreReadOnly",
      "Effect": "Allow",
      "Action": [
        "ec2:DescribeInstances",
        "ec2:DescribeRegions",
        "elasticloadbalancing:DescribeLoadBalancers",
        "elasticloadbalancing:DescribeTargetGroups",
        "elasticloadbalancing:DescribeTargetHealth",
        "elasticloadbalancing:DescribeTags",
        "rds:DescribeDBInstances",
        "lambda:ListFunctions",
        "lambda:ListProvisionedConcurrencyConfigs",
        "lambda:ListTags",
        "cloudwatch:GetMetricData",
        "pricing:GetProducts",
        "sts:GetCallerIdentity"
      ],
      "Resource": "*"
    },
    {
      "Sid": "WasteSpectreAssumeRole",
      "Effect": "Allow",
      "Action": "sts:AssumeRole",
      "Resource": "arn:aws:iam::*:role/wastespectre"
    }
  ]
}
`
