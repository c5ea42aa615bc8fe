package cli

import (
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/GESkunkworks/paydirt"
)

// Execute runs the paydirt CLI and returns an error if the survey fails.
func Execute() error {
	var (
		configPath   string
		profile      string
		allAccounts  bool
		roleName     string
		lookbackDays int
		outfile      string
		verbose      bool
	)

	root := &cobra.Command{
		Use:   "paydirt",
		Short: "paydirt inventories S3 storage usage across AWS accounts",
		Long: `paydirt surveys the S3 buckets of one AWS account, or every account
in an AWS Organization, and writes a storage-usage report to CSV.
Report columns are declarative: toggle them in the config file and the
survey automatically fetches only the data the enabled columns need.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := Config{}
			if configPath != "" {
				var err error
				cfg, err = loadConfig(configPath)
				if err != nil {
					return fmt.Errorf("reading config %s: %w", configPath, err)
				}
			}
			// explicit flags win over the config file
			if cmd.Flags().Changed("all-accounts") {
				cfg.AllAccounts = allAccounts
			}
			if cmd.Flags().Changed("role") {
				cfg.RoleName = roleName
			}
			if cmd.Flags().Changed("days") {
				cfg.LookbackDays = lookbackDays
			}
			if cmd.Flags().Changed("outfile") {
				cfg.Outfile = outfile
			}

			logger := newLogger(verbose)
			sess, err := session.NewSessionWithOptions(session.Options{
				Profile:           profile,
				SharedConfigState: session.SharedConfigEnable,
			})
			if err != nil {
				return fmt.Errorf("creating AWS session: %w", err)
			}

			input := paydirt.SurveyInput{
				Session:        sess,
				AllAccounts:    &cfg.AllAccounts,
				EnableColumns:  cfg.Columns.Enable,
				DisableColumns: cfg.Columns.Disable,
				StorageTypes:   cfg.StorageTypes,
				Logger:         &logger,
			}
			if cfg.RoleName != "" {
				input.OrgRoleName = &cfg.RoleName
			}
			if cfg.LookbackDays > 0 {
				input.LookbackDays = &cfg.LookbackDays
			}
			if cfg.Outfile != "" {
				input.Outfile = &cfg.Outfile
			}

			svy, err := paydirt.New(&input)
			if err != nil {
				return err
			}
			if err := svy.Start(); err != nil {
				return err
			}
			if skipped := svy.Skipped(); skipped != nil {
				logger.Warn("some accounts were skipped", "detail", skipped.Error())
			}
			return svy.ExportCSV()
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	root.Flags().StringVar(&profile, "profile", "", "AWS shared config profile to use")
	root.Flags().BoolVar(&allAccounts, "all-accounts", false, "survey every ACTIVE account in the organization")
	root.Flags().StringVar(&roleName, "role", "", "role to assume in member accounts")
	root.Flags().IntVar(&lookbackDays, "days", 0, "days to look back for a CloudWatch datapoint")
	root.Flags().StringVarP(&outfile, "outfile", "o", "", "CSV output filename")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return root.Execute()
}

// newLogger builds a log15 logger to stderr, debug level when verbose.
func newLogger(verbose bool) log15.Logger {
	level := log15.LvlInfo
	if verbose {
		level = log15.LvlDebug
	}
	logger := log15.New()
	logger.SetHandler(
		log15.LvlFilterHandler(
			level,
			log15.StreamHandler(os.Stderr, log15.LogfmtFormat()),
		),
	)
	return logger
}
