package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/slipway-io/slipway/internal/config"
	"github.com/slipway-io/slipway/internal/logging"
)

// cfg is the configuration the running command operates on, resolved by
// loadConfig before any RunE fires.
var cfg *config.Config

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "Idempotent container application deployments",
	Long: `Slipway provisions the fixed set of cloud resources a containerized web
application needs (resource group, registry, image, compute plan, the
application itself, a cache and autoscaling) and rolls the application
out, in dependency order.

Every run converges live infrastructure toward the configuration:
resources that already match are left alone, drifted ones are updated,
missing ones are created. A failed run is recovered by running the same
deploy again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return loadConfig(cmd)
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// ExitError carries the process exit code for a finished run: 1 when a
// required resource failed, 2 when only best-effort resources did.
// Cobra propagates it like any error; main unwraps the code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// flagBindings maps command-line flags onto the configuration keys they
// override. Only flags the user actually set take effect, keeping the
// precedence flag > environment > config file > default.
var flagBindings = map[string]string{
	"resource-group":   "deployment.resource_group",
	"location":         "deployment.location",
	"registry":         "deployment.registry",
	"plan":             "deployment.plan",
	"app":              "deployment.app",
	"image":            "deployment.image",
	"cache":            "deployment.cache",
	"parallel":         "deployment.parallelism",
	"timeout":          "deployment.node_timeout",
	"provider":         "provider.name",
	"region":           "provider.region",
	"health-timeout":   "health.timeout",
	"health-interval":  "health.interval",
	"health-url":       "health.url",
	"skip-health":      "health.disabled",
	"record-s3-bucket": "record.s3_bucket",
	"lock-table":       "record.lock_table",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
}

// loadConfig resolves the effective configuration for cmd. A .env file
// is folded into the environment first, then viper merges defaults, the
// optional config file, SLIPWAY_* variables and finally any flags set
// on the command line.
func loadConfig(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}

	v := viper.New()
	config.BindDefaults(v)
	v.SetEnvPrefix("SLIPWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	} else {
		v.SetConfigName("slipway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return err
			}
		}
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if key, ok := flagBindings[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default slipway.yaml in the working directory)")
	pf.String("resource-group", "", "Resource group every resource is tagged into")
	pf.String("location", "", "Region the topology lives in")
	pf.String("registry", "", "Container registry name")
	pf.String("plan", "", "Compute plan name")
	pf.String("app", "", "Application name")
	pf.String("image", "", "Image to deploy, as repository:tag")
	pf.String("cache", "", "Cache instance name")
	pf.String("provider", "", "Provider backend: aws, local or fake")
	pf.String("region", "", "Provider API region (defaults to the location)")
	pf.String("log-level", "", "Log level: debug, info, warn or error")
	pf.String("log-format", "", "Log format: text or json")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
