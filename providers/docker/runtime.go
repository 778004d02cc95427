package docker

import (
	"context"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

// cacheContainerPort is where the engine listens inside the container;
// redis and valkey both default to it.
const cacheContainerPort = "6379"

// networkAdapter stands in for the resource group: one bridge network
// every local container joins, so containers reach each other by name.
type networkAdapter struct {
	p *Provider
}

func (a *networkAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	_, err := a.p.cli.NetworkInspect(ctx, req.Name, network.InspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("network inspect", err)
	}
	// A network has no observable location; nothing to diff.
	return provider.Found(map[string]string{}), nil
}

func (a *networkAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if observed.Exists {
		return provider.Result{}, nil
	}
	_, err := a.p.cli.NetworkCreate(ctx, req.Name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{groupLabel: req.Name},
	})
	if err != nil {
		return provider.Result{}, classify("network create", err)
	}
	return provider.Result{}, nil
}

// noopAdapter backs the kinds the local runtime has no resource for. It
// always reports existing so runs skip past it, and hands dependents
// the secrets they expect.
type noopAdapter struct {
	secrets map[string]string
}

func (a *noopAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	return provider.FoundWithSecrets(map[string]string{}, a.secrets), nil
}

func (a *noopAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	return provider.Result{Secrets: a.secrets}, nil
}

// cacheAdapter runs the cache as a container named after the node, so
// the app reaches it by DNS on the shared network.
type cacheAdapter struct {
	p *Provider
}

func (a *cacheAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	info, err := a.p.cli.ContainerInspect(ctx, req.Name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("container inspect", err)
	}
	if info.State == nil || !info.State.Running {
		// A stopped cache is not serving anyone; recreate it.
		return provider.NotFound(), nil
	}

	attrs := map[string]string{ir.KeyEngine: engineOf(info.Config.Image)}
	if port := publishedPort(info); port != "" {
		attrs[ir.KeyPort] = port
	}
	return provider.FoundWithSecrets(attrs, cacheSecrets(req.Name)), nil
}

func (a *cacheAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if err := a.p.removeContainer(ctx, req.Name); err != nil {
		return provider.Result{}, err
	}

	img := cacheImage(req.Config[ir.KeyEngine])
	if err := a.p.ensureImage(ctx, img); err != nil {
		return provider.Result{}, err
	}

	hostPort := req.Config[ir.KeyPort]
	if hostPort == "" {
		hostPort = cacheContainerPort
	}
	natPort := nat.Port(cacheContainerPort + "/tcp")

	resp, err := a.p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  img,
			Labels: map[string]string{groupLabel: a.p.opts.Network},
			Healthcheck: &container.HealthConfig{
				Test:     []string{"CMD", "redis-cli", "ping"},
				Interval: 10 * time.Second,
				Retries:  3,
			},
		},
		&container.HostConfig{
			NetworkMode:   container.NetworkMode(a.p.opts.Network),
			PortBindings:  nat.PortMap{natPort: {{HostIP: "127.0.0.1", HostPort: hostPort}}},
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		&network.NetworkingConfig{}, &v1.Platform{}, req.Name)
	if err != nil {
		return provider.Result{}, classify("cache container create", err)
	}
	if err := a.p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return provider.Result{}, classify("cache container start", err)
	}

	logging.Debug("cache container running", "name", req.Name, "image", img)
	return provider.Result{Secrets: cacheSecrets(req.Name)}, nil
}

// appAdapter runs the application container with its resolved
// environment. The url secret points at the published host port, which
// is where the health poller looks.
type appAdapter struct {
	p *Provider
}

func (a *appAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	info, err := a.p.cli.ContainerInspect(ctx, req.Name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("container inspect", err)
	}
	if info.State == nil || !info.State.Running {
		return provider.NotFound(), nil
	}

	attrs := map[string]string{ir.KeyImage: info.Config.Image}
	for _, kv := range info.Config.Env {
		if name, value, ok := strings.Cut(kv, "="); ok {
			attrs[ir.EnvPrefix+name] = value
		}
	}

	obs := provider.Found(attrs)
	if port := publishedPort(info); port != "" {
		obs.Attrs[ir.KeyPort] = port
		obs.Secrets = map[string]string{ir.SecretURL: "http://localhost:" + port}
	}
	return obs, nil
}

func (a *appAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if err := a.p.removeContainer(ctx, req.Name); err != nil {
		return provider.Result{}, err
	}

	ref := req.Config[ir.KeyImage]
	if err := a.p.ensureImage(ctx, ref); err != nil {
		return provider.Result{}, err
	}

	port := req.Config[ir.KeyPort]
	if port == "" {
		port = "80"
	}
	natPort := nat.Port(port + "/tcp")

	resp, err := a.p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        ref,
			Env:          envList(req.Config),
			ExposedPorts: nat.PortSet{natPort: struct{}{}},
			Labels:       map[string]string{groupLabel: a.p.opts.Network},
		},
		&container.HostConfig{
			NetworkMode:   container.NetworkMode(a.p.opts.Network),
			PortBindings:  nat.PortMap{natPort: {{HostIP: "0.0.0.0", HostPort: port}}},
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		&network.NetworkingConfig{}, &v1.Platform{}, req.Name)
	if err != nil {
		return provider.Result{}, classify("app container create", err)
	}
	if err := a.p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return provider.Result{}, classify("app container start", err)
	}

	logging.Debug("app container running", "name", req.Name, "image", ref)
	return provider.Result{Secrets: map[string]string{ir.SecretURL: "http://localhost:" + port}}, nil
}

// removeContainer clears any leftover container with the name, running
// or not, ahead of a fresh create.
func (p *Provider) removeContainer(ctx context.Context, name string) error {
	_, err := p.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return classify("container inspect", err)
	}

	timeout := 10
	_ = p.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if err := p.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return classify("container remove", err)
	}
	return nil
}

// ensureImage pulls ref only when the engine does not hold it yet, so
// locally built tags never depend on a pullable remote.
func (p *Provider) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := p.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	reader, err := p.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify("image pull", err)
	}
	return drainStream(reader, "image pull")
}

func cacheSecrets(host string) map[string]string {
	endpoint := host + ":" + cacheContainerPort
	return map[string]string{
		ir.SecretConnectionString: "redis://" + endpoint,
		ir.SecretEndpoint:         endpoint,
	}
}

// cacheImage maps the engine name to a runnable image; anything with a
// tag or path is taken as a full reference already.
func cacheImage(engine string) string {
	switch engine {
	case "", "redis":
		return "redis:7-alpine"
	case "valkey":
		return "valkey/valkey:8-alpine"
	default:
		return engine
	}
}

func engineOf(imageRef string) string {
	name := imageRef
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}

func publishedPort(info types.ContainerJSON) string {
	if info.NetworkSettings == nil {
		return ""
	}
	for _, bindings := range info.NetworkSettings.Ports {
		if len(bindings) > 0 {
			return bindings[0].HostPort
		}
	}
	return ""
}
