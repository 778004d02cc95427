// Package config holds the deployment declaration: which named
// resources to provision, which provider to drive and how the ambient
// machinery (health polling, records, notifications) behaves. Values
// come from defaults, an optional config file, SLIPWAY_* environment
// variables and CLI flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/slipway-io/slipway/internal/errors"
)

type Config struct {
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Health     HealthConfig     `mapstructure:"health"`
	Record     RecordConfig     `mapstructure:"record"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	// Nodes overrides config and env entries per node id, on top of
	// what the named parameters generate. File-only; there are no flags
	// for it.
	Nodes map[string]NodeOverride `mapstructure:"nodes"`
}

// NodeOverride adjusts one topology node. Config keys land in the
// node's config map verbatim; Env entries get the env. prefix.
type NodeOverride struct {
	Config map[string]string `mapstructure:"config"`
	Env    map[string]string `mapstructure:"env"`
}

// DeploymentConfig names every resource in the fixed topology.
type DeploymentConfig struct {
	ResourceGroup string `mapstructure:"resource_group" validate:"required"`
	Location      string `mapstructure:"location" validate:"required"`
	Registry      string `mapstructure:"registry" validate:"required"`
	Plan          string `mapstructure:"plan" validate:"required"`
	App           string `mapstructure:"app" validate:"required,hostname_rfc1123"`
	// Image is the repository:tag to build and push, e.g.
	// talentradar:latest. The registry host is prepended at deploy time.
	Image string `mapstructure:"image" validate:"required"`
	Cache string `mapstructure:"cache" validate:"required"`

	AppPort   int `mapstructure:"app_port" validate:"gte=1,lte=65535"`
	CachePort int `mapstructure:"cache_port" validate:"gte=1,lte=65535"`

	CacheNodeType string `mapstructure:"cache_node_type"`

	// AppEnv is forwarded into the application container on top of the
	// generated entries (cache connection string and port).
	AppEnv map[string]string `mapstructure:"app_env"`

	CPU          int `mapstructure:"cpu" validate:"gte=256"`
	Memory       int `mapstructure:"memory" validate:"gte=512"`
	DesiredCount int `mapstructure:"desired_count" validate:"gte=1"`

	AutoscaleMin int `mapstructure:"autoscale_min" validate:"gte=1"`
	AutoscaleMax int `mapstructure:"autoscale_max" validate:"gtefield=AutoscaleMin"`
	TargetCPU    int `mapstructure:"target_cpu" validate:"gte=1,lte=100"`

	// Parallelism 1 reproduces the strictly sequential reference
	// behavior; higher values run independent nodes concurrently.
	Parallelism int           `mapstructure:"parallelism" validate:"gte=1,lte=16"`
	NodeTimeout time.Duration `mapstructure:"node_timeout"`

	// BuildContext is the docker build context for the image node.
	BuildContext string `mapstructure:"build_context"`
	Dockerfile   string `mapstructure:"dockerfile"`
}

// ProviderConfig selects and tunes the provider backend.
type ProviderConfig struct {
	Name   string `mapstructure:"name" validate:"oneof=aws local fake"`
	Region string `mapstructure:"region"`

	// SubnetID and SecurityGroup override discovery; empty means the
	// default VPC is probed for usable ones.
	SubnetID       string `mapstructure:"subnet_id"`
	SecurityGroup  string `mapstructure:"security_group"`
	AssignPublicIP bool   `mapstructure:"assign_public_ip"`
	ExecutionRole  string `mapstructure:"execution_role"`

	// DockerHost applies to the local provider; empty uses the
	// environment's default daemon socket.
	DockerHost string `mapstructure:"docker_host"`
}

type HealthConfig struct {
	Path     string        `mapstructure:"path"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
	Disabled bool          `mapstructure:"disabled"`

	// URL overrides the endpoint entirely; the deployed application's
	// url secret plus Path is the default.
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RecordConfig controls where deployment records land. The local file
// is always written; bucket and table are optional extras.
type RecordConfig struct {
	Dir       string `mapstructure:"dir"`
	S3Bucket  string `mapstructure:"s3_bucket"`
	S3Prefix  string `mapstructure:"s3_prefix"`
	LockTable string `mapstructure:"lock_table"`
	Disabled  bool   `mapstructure:"disabled"`
}

type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url" validate:"omitempty,url"`
	SlackChannel    string `mapstructure:"slack_channel"`
	WebhookURL      string `mapstructure:"webhook_url" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Default returns the configuration for a stock talentradar rollout.
// Only the location has no default and must be supplied.
func Default() *Config {
	return &Config{
		Deployment: DeploymentConfig{
			ResourceGroup: "talentradar-rg",
			Registry:      "talentradar",
			Plan:          "talentradar-plan",
			App:           "talentradar",
			Image:         "talentradar:latest",
			Cache:         "talentradar-cache",
			AppPort:       8501,
			CachePort:     6379,
			CacheNodeType: "cache.t4g.micro",
			AppEnv: map[string]string{
				"SEARXNG_BASE_URL": "http://localhost:8888",
			},
			CPU:          512,
			Memory:       1024,
			DesiredCount: 1,
			AutoscaleMin: 1,
			AutoscaleMax: 3,
			TargetCPU:    70,
			Parallelism:  1,
			NodeTimeout:  10 * time.Minute,
			BuildContext: ".",
			Dockerfile:   "Dockerfile",
		},
		Provider: ProviderConfig{
			Name: "aws",
		},
		Health: HealthConfig{
			Path:     "/_stcore/health",
			Timeout:  5 * time.Minute,
			Interval: 10 * time.Second,
		},
		Record: RecordConfig{
			Dir: ".slipway",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// BindDefaults seeds viper with every known key. Viper resolves
// environment variables only for keys it knows about, so without this
// SLIPWAY_* overrides for unflagged keys would be ignored.
func BindDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("deployment.resource_group", d.Deployment.ResourceGroup)
	v.SetDefault("deployment.location", d.Deployment.Location)
	v.SetDefault("deployment.registry", d.Deployment.Registry)
	v.SetDefault("deployment.plan", d.Deployment.Plan)
	v.SetDefault("deployment.app", d.Deployment.App)
	v.SetDefault("deployment.image", d.Deployment.Image)
	v.SetDefault("deployment.cache", d.Deployment.Cache)
	v.SetDefault("deployment.app_port", d.Deployment.AppPort)
	v.SetDefault("deployment.cache_port", d.Deployment.CachePort)
	v.SetDefault("deployment.cache_node_type", d.Deployment.CacheNodeType)
	v.SetDefault("deployment.cpu", d.Deployment.CPU)
	v.SetDefault("deployment.memory", d.Deployment.Memory)
	v.SetDefault("deployment.desired_count", d.Deployment.DesiredCount)
	v.SetDefault("deployment.autoscale_min", d.Deployment.AutoscaleMin)
	v.SetDefault("deployment.autoscale_max", d.Deployment.AutoscaleMax)
	v.SetDefault("deployment.target_cpu", d.Deployment.TargetCPU)
	v.SetDefault("deployment.parallelism", d.Deployment.Parallelism)
	v.SetDefault("deployment.node_timeout", d.Deployment.NodeTimeout)
	v.SetDefault("deployment.build_context", d.Deployment.BuildContext)
	v.SetDefault("deployment.dockerfile", d.Deployment.Dockerfile)

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.region", d.Provider.Region)
	v.SetDefault("provider.subnet_id", d.Provider.SubnetID)
	v.SetDefault("provider.security_group", d.Provider.SecurityGroup)
	v.SetDefault("provider.assign_public_ip", d.Provider.AssignPublicIP)
	v.SetDefault("provider.execution_role", d.Provider.ExecutionRole)
	v.SetDefault("provider.docker_host", d.Provider.DockerHost)

	v.SetDefault("health.path", d.Health.Path)
	v.SetDefault("health.timeout", d.Health.Timeout)
	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.disabled", d.Health.Disabled)
	v.SetDefault("health.url", d.Health.URL)

	v.SetDefault("record.dir", d.Record.Dir)
	v.SetDefault("record.s3_bucket", d.Record.S3Bucket)
	v.SetDefault("record.s3_prefix", d.Record.S3Prefix)
	v.SetDefault("record.lock_table", d.Record.LockTable)
	v.SetDefault("record.disabled", d.Record.Disabled)

	v.SetDefault("notify.slack_webhook_url", d.Notify.SlackWebhookURL)
	v.SetDefault("notify.slack_channel", d.Notify.SlackChannel)
	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load unmarshals the merged viper state over the defaults and
// validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigValidation, "failed to unmarshal configuration")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and folds every violation into one
// user-facing error.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var details strings.Builder
	details.WriteString("configuration validation failed:")
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fmt.Fprintf(&details, "\n - %s: failed %q validation (value: %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
	} else {
		fmt.Fprintf(&details, " %v", err)
	}
	return apperrors.NewUserFacing(apperrors.CodeConfigValidation, details.String(),
		"check the flags, SLIPWAY_* environment variables and config file")
}

// LoadDotEnv loads a .env file when one exists. Variables already set
// in the environment win over file values.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
