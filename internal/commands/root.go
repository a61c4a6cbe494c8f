package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/wastespectre/internal/config"
	"github.com/ppiankov/wastespectre/internal/logging"
)

var (
	verbose bool
	profile string
	version string
	commit  string
	date    string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wastespectre",
	Short: "AWS cost waste analyzer",
	Long: `wastespectre analyzes EC2 instances, RDS databases, Lambda functions and
load balancers across regions for idle, oversized and misconfigured resources.

Every finding carries a recommendation, estimated savings, a risk classification
and an implementation plan. Scans run under a global deadline and return
partial results rather than failing when time runs out.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(verbose)
		loaded, err := config.Load(".")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config file")
		} else {
			cfg = loaded
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with injected build info.
func Execute(v, c, d string) error {
	version = v
	commit = c
	date = d
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS profile name")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
