// Package docker backs two provider modes with one engine client: the
// image adapter that builds and pushes the application image (used by
// the aws set too), and the local runtime that maps the whole topology
// onto a bridge network and containers for development runs.
package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
)

// groupLabel marks every network and container the local runtime
// creates, the same role the slipway:group tag plays on AWS.
const groupLabel = "io.slipway.group"

// APIClient is the slice of the docker engine client the adapters use.
// Tests hand in fakes; NewFromEnv wires the real client.
type APIClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	DistributionInspect(ctx context.Context, image, encodedRegistryAuth string) (registry.DistributionInspect, error)
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Options carries the runtime settings the node config does not: the
// network local containers join, named after the resource group, and an
// optional engine address overriding DOCKER_HOST.
type Options struct {
	Network string
	Host    string
}

type Provider struct {
	cli  APIClient
	opts Options
}

func New(cli APIClient, opts Options) *Provider {
	return &Provider{cli: cli, opts: opts}
}

// NewFromEnv builds the provider against the ambient docker daemon.
func NewFromEnv(opts Options) (*Provider, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}
	return New(cli, opts), nil
}

// RegisterImage binds only the image adapter. The aws set uses this:
// every other kind lives in the cloud, the image is built and pushed
// through the local engine.
func (p *Provider) RegisterImage(reg *provider.Registry) {
	reg.Register(ir.KindContainerImage, &imageAdapter{p})
}

// RegisterLocal binds the full local runtime: a bridge network for the
// group, containers for cache and app, and no-ops for the kinds that
// have no local equivalent.
func (p *Provider) RegisterLocal(reg *provider.Registry) {
	reg.Register(ir.KindResourceGroup, &networkAdapter{p})
	reg.Register(ir.KindContainerRegistry, &noopAdapter{secrets: map[string]string{
		ir.SecretLoginServer: "",
		ir.SecretUsername:    "",
		ir.SecretPassword:    "",
	}})
	reg.Register(ir.KindContainerImage, &imageAdapter{p})
	reg.Register(ir.KindComputePlan, &noopAdapter{})
	reg.Register(ir.KindApplication, &appAdapter{p})
	reg.Register(ir.KindCache, &cacheAdapter{p})
	reg.Register(ir.KindAutoscalePolicy, &noopAdapter{})
}

// classify turns an engine error into a provider rejection. The docker
// API has no throttling tier worth a transient class.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(err, apperrors.CodeProviderRejected, "docker "+operation)
}

// drainStream consumes a docker progress stream. Build and push report
// failure inside the stream, not on the call, so the embedded error is
// the one that matters.
func drainStream(r io.ReadCloser, operation string) error {
	defer r.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(r, io.Discard, 0, false, nil); err != nil {
		return apperrors.Wrap(err, apperrors.CodeProviderRejected, "docker "+operation)
	}
	return nil
}

// envList renders the env.-prefixed config keys as KEY=VALUE pairs,
// sorted so container diffs stay stable.
func envList(config map[string]string) []string {
	var names []string
	for k := range config {
		if strings.HasPrefix(k, ir.EnvPrefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	env := make([]string, 0, len(names))
	for _, k := range names {
		env = append(env, strings.TrimPrefix(k, ir.EnvPrefix)+"="+config[k])
	}
	return env
}
