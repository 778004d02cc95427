package cli

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/slipway-io/slipway/internal/config"
	"github.com/slipway-io/slipway/internal/engine"
	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/health"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/notify"
	"github.com/slipway-io/slipway/internal/provider"
	"github.com/slipway-io/slipway/internal/record"
	"github.com/slipway-io/slipway/providers/aws"
	"github.com/slipway-io/slipway/providers/docker"
	"github.com/slipway-io/slipway/providers/fake"
)

// registryFor wires the provider backend the configuration selects. The
// aws backend still builds and pushes images through the local Docker
// engine; only the cloud resources go through the AWS APIs.
func registryFor(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	switch cfg.Provider.Name {
	case "aws":
		p, err := aws.NewFromConfig(ctx, aws.Options{
			Region:         regionFor(cfg),
			ResourceGroup:  cfg.Deployment.ResourceGroup,
			SubnetIDs:      splitNonEmpty(cfg.Provider.SubnetID),
			SecurityGroups: splitNonEmpty(cfg.Provider.SecurityGroup),
			AssignPublicIP: cfg.Provider.AssignPublicIP,
			ExecutionRole:  cfg.Provider.ExecutionRole,
		})
		if err != nil {
			return nil, err
		}
		account, err := p.Preflight(ctx)
		if err != nil {
			return nil, err
		}
		logging.Info("aws provider ready", "account", account, "region", regionFor(cfg))
		p.Register(reg)

		d, err := docker.NewFromEnv(docker.Options{Host: cfg.Provider.DockerHost})
		if err != nil {
			return nil, err
		}
		d.RegisterImage(reg)

	case "local":
		d, err := docker.NewFromEnv(docker.Options{
			Network: cfg.Deployment.ResourceGroup,
			Host:    cfg.Provider.DockerHost,
		})
		if err != nil {
			return nil, err
		}
		d.RegisterLocal(reg)

	case "fake":
		fake.New().Register(reg)

	default:
		return nil, apperrors.NewUserFacing(apperrors.CodeConfigValidation,
			fmt.Sprintf("unknown provider %q", cfg.Provider.Name),
			"set provider.name to aws, local or fake")
	}
	return reg, nil
}

// archiveFor builds the remote record archive when one is configured,
// nil otherwise. The archive shares credentials with the aws provider
// but not its client set; status and deploy both reach it even when the
// topology itself runs locally.
func archiveFor(ctx context.Context, cfg *config.Config) (*record.Archive, error) {
	rc := cfg.Record
	if rc.Disabled || (rc.S3Bucket == "" && rc.LockTable == "") {
		return nil, nil
	}

	awscfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(regionFor(cfg)))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeProviderAuth,
			"unable to load AWS credentials for the record archive")
	}
	return record.NewArchive(
		s3.NewFromConfig(awscfg),
		dynamodb.NewFromConfig(awscfg),
		rc.S3Bucket, rc.S3Prefix, rc.LockTable,
	), nil
}

// notifierFor assembles the configured notification targets.
func notifierFor(cfg *config.Config) notify.Notifier {
	var targets []notify.Notifier
	if cfg.Notify.SlackWebhookURL != "" {
		targets = append(targets, notify.NewSlackNotifier(cfg.Notify.SlackWebhookURL, cfg.Notify.SlackChannel))
	}
	if cfg.Notify.WebhookURL != "" {
		targets = append(targets, notify.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if len(targets) == 0 {
		return notify.Noop{}
	}
	return notify.NewMulti(targets...)
}

// checkerFor builds the convergence checker factory. A configured
// health.url always wins; otherwise the checker targets the URL the
// application produced into the envelope. When neither resolves, the
// provider itself is asked about the application, and a nil checker
// (health stays Unknown) is the final fallback.
func checkerFor(cfg *config.Config, reg *provider.Registry, nodes []*ir.Node) func(*engine.Envelope) health.Checker {
	if cfg.Health.Disabled {
		return nil
	}
	return func(env *engine.Envelope) health.Checker {
		if cfg.Health.URL != "" {
			return health.NewHTTPChecker(cfg.Health.URL)
		}
		if base, ok := env.Lookup(config.NodeApp, ir.SecretURL); ok && base != "" {
			return health.NewHTTPChecker(strings.TrimRight(base, "/") + cfg.Health.Path)
		}
		return providerChecker(reg, nodes, env)
	}
}

// providerChecker falls back to asking the application's own adapter,
// for setups where the endpoint is not reachable from this machine.
func providerChecker(reg *provider.Registry, nodes []*ir.Node, env *engine.Envelope) health.Checker {
	for _, n := range nodes {
		if n.ID != config.NodeApp {
			continue
		}
		adapter, err := reg.Get(n.Kind)
		if err != nil {
			return nil
		}
		resolved, err := env.ResolveConfig(n.Config)
		if err != nil {
			return nil
		}
		return &health.ProviderChecker{
			Adapter: adapter,
			Request: provider.Request{Kind: n.Kind, Name: n.Name, Config: resolved},
		}
	}
	return nil
}

// regionFor picks the provider API region, falling back to the
// deployment location when no explicit region is set.
func regionFor(cfg *config.Config) string {
	if cfg.Provider.Region != "" {
		return cfg.Provider.Region
	}
	return cfg.Deployment.Location
}

// versionTag extracts the tag from an image reference. Untagged
// references report as-is.
func versionTag(image string) string {
	if _, tag, ok := strings.Cut(image, ":"); ok {
		return tag
	}
	return image
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
