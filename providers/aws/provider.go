// Package aws maps the deployment topology onto AWS: resource groups,
// ECR, ECS on Fargate, ElastiCache and Application Auto Scaling. One
// adapter per resource kind; the container image kind stays with the
// docker provider even under this set.
package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/applicationautoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroups"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/time/rate"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

// Options carries the account-level settings adapters cannot learn from
// node config: where to place network interfaces, which role lets
// Fargate pull images and ship logs, and the resource group every
// created resource is tagged into.
type Options struct {
	Region         string
	ResourceGroup  string
	SubnetIDs      []string
	SecurityGroups []string
	AssignPublicIP bool
	ExecutionRole  string
}

// Provider is the AWS adapter set. All adapters share one token-bucket
// rate limiter so parallel node execution cannot trip API throttling.
type Provider struct {
	clients Clients
	opts    Options
	limiter *rate.Limiter
}

func New(clients Clients, opts Options) *Provider {
	return &Provider{
		clients: clients,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(8), 16),
	}
}

// NewFromConfig builds the provider from ambient AWS credentials.
func NewFromConfig(ctx context.Context, opts Options) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	if opts.Region == "" {
		opts.Region = cfg.Region
	}

	clients := Clients{
		Groups:  resourcegroups.NewFromConfig(cfg),
		ECR:     ecr.NewFromConfig(cfg),
		ECS:     ecs.NewFromConfig(cfg),
		Logs:    cloudwatchlogs.NewFromConfig(cfg),
		EC2:     ec2.NewFromConfig(cfg),
		Cache:   elasticache.NewFromConfig(cfg),
		Scaling: applicationautoscaling.NewFromConfig(cfg),
		STS:     sts.NewFromConfig(cfg),
	}
	return New(clients, opts), nil
}

// Register binds this provider's adapters. The image kind is absent on
// purpose: images are built and pushed by the docker provider.
func (p *Provider) Register(reg *provider.Registry) {
	reg.Register(ir.KindResourceGroup, &groupAdapter{p})
	reg.Register(ir.KindContainerRegistry, &registryAdapter{p})
	reg.Register(ir.KindComputePlan, &clusterAdapter{p})
	reg.Register(ir.KindApplication, &serviceAdapter{p})
	reg.Register(ir.KindCache, &cacheAdapter{p})
	reg.Register(ir.KindAutoscalePolicy, &autoscaleAdapter{p})
}

// Preflight verifies credentials resolve before any node runs, so a
// missing profile fails the run in planning rather than mid-topology.
func (p *Provider) Preflight(ctx context.Context) (string, error) {
	out, err := p.clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", classify("sts", "GetCallerIdentity", err)
	}
	account := strings.TrimSpace(stringValue(out.Account))
	logging.Debug("aws credentials verified", "account", account, "region", p.opts.Region)
	return account, nil
}

func (p *Provider) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	return &s
}

func int32Ptr(i int32) *int32 {
	return &i
}

func boolPtr(b bool) *bool {
	return &b
}

func float64Ptr(f float64) *float64 {
	return &f
}
