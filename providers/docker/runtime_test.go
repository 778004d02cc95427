package docker

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
)

func localProvider(fake *fakeClient) *Provider {
	return New(fake, Options{Network: "talentradar-rg"})
}

func runningContainer(img string, env []string, containerPort, hostPort string) types.ContainerJSON {
	settings := &types.NetworkSettings{}
	if hostPort != "" {
		settings.Ports = nat.PortMap{
			nat.Port(containerPort + "/tcp"): {{HostIP: "127.0.0.1", HostPort: hostPort}},
		}
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    "ctr-1",
			State: &types.ContainerState{Running: true},
		},
		Config:          &container.Config{Image: img, Env: env},
		NetworkSettings: settings,
	}
}

func TestRegisterLocal_CoversWholeTopology(t *testing.T) {
	reg := provider.NewRegistry()
	localProvider(&fakeClient{}).RegisterLocal(reg)

	for _, kind := range []ir.Kind{
		ir.KindResourceGroup,
		ir.KindContainerRegistry,
		ir.KindContainerImage,
		ir.KindComputePlan,
		ir.KindApplication,
		ir.KindCache,
		ir.KindAutoscalePolicy,
	} {
		_, err := reg.Get(kind)
		assert.NoError(t, err, kind)
	}
}

func TestNetworkDescribe_MissingIsNotFound(t *testing.T) {
	fake := &fakeClient{
		networkInspect: func(name string) (network.Inspect, error) {
			return network.Inspect{}, notFoundErr{}
		},
	}
	a := &networkAdapter{localProvider(fake)}

	obs, err := a.Describe(context.Background(), provider.Request{Kind: ir.KindResourceGroup, Name: "talentradar-rg"})
	require.NoError(t, err)
	assert.False(t, obs.Exists)
}

func TestNetworkCreate_BridgeWithGroupLabel(t *testing.T) {
	var createdName string
	var createdOpts network.CreateOptions
	fake := &fakeClient{
		networkCreate: func(name string, options network.CreateOptions) (network.CreateResponse, error) {
			createdName = name
			createdOpts = options
			return network.CreateResponse{ID: "net-1"}, nil
		},
	}
	a := &networkAdapter{localProvider(fake)}
	req := provider.Request{Kind: ir.KindResourceGroup, Name: "talentradar-rg"}

	_, err := a.CreateOrUpdate(context.Background(), req, provider.NotFound())
	require.NoError(t, err)
	assert.Equal(t, "talentradar-rg", createdName)
	assert.Equal(t, "bridge", createdOpts.Driver)
	assert.Equal(t, "talentradar-rg", createdOpts.Labels[groupLabel])
}

func TestNetworkCreate_SkipsWhenPresent(t *testing.T) {
	calls := 0
	fake := &fakeClient{
		networkCreate: func(name string, options network.CreateOptions) (network.CreateResponse, error) {
			calls++
			return network.CreateResponse{}, nil
		},
	}
	a := &networkAdapter{localProvider(fake)}

	_, err := a.CreateOrUpdate(context.Background(), provider.Request{Name: "talentradar-rg"}, provider.Found(map[string]string{}))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestLocalRegistry_HandsPlaceholderCredentials(t *testing.T) {
	reg := provider.NewRegistry()
	localProvider(&fakeClient{}).RegisterLocal(reg)

	a, err := reg.Get(ir.KindContainerRegistry)
	require.NoError(t, err)

	obs, err := a.Describe(context.Background(), provider.Request{Kind: ir.KindContainerRegistry, Name: "talentradaracr"})
	require.NoError(t, err)
	assert.True(t, obs.Exists)
	// An empty loginServer switches the image adapter into its local,
	// push-free mode.
	assert.Contains(t, obs.Secrets, ir.SecretLoginServer)
	assert.Empty(t, obs.Secrets[ir.SecretLoginServer])
	assert.Contains(t, obs.Secrets, ir.SecretUsername)
	assert.Contains(t, obs.Secrets, ir.SecretPassword)
}

func TestCacheDescribe_RunningContainer(t *testing.T) {
	fake := &fakeClient{
		containerInspect: func(name string) (types.ContainerJSON, error) {
			assert.Equal(t, "talentradar-cache", name)
			return runningContainer("redis:7-alpine", nil, "6379", "6379"), nil
		},
	}
	a := &cacheAdapter{localProvider(fake)}

	obs, err := a.Describe(context.Background(), cacheReq())
	require.NoError(t, err)
	require.True(t, obs.Exists)
	assert.Equal(t, "redis", obs.Attrs[ir.KeyEngine])
	assert.Equal(t, "6379", obs.Attrs[ir.KeyPort])
	assert.Equal(t, "redis://talentradar-cache:6379", obs.Secrets[ir.SecretConnectionString])
	assert.Equal(t, "talentradar-cache:6379", obs.Secrets[ir.SecretEndpoint])
}

func TestCacheDescribe_StoppedContainerIsNotFound(t *testing.T) {
	fake := &fakeClient{
		containerInspect: func(name string) (types.ContainerJSON, error) {
			info := runningContainer("redis:7-alpine", nil, "6379", "6379")
			info.State.Running = false
			return info, nil
		},
	}
	a := &cacheAdapter{localProvider(fake)}

	obs, err := a.Describe(context.Background(), cacheReq())
	require.NoError(t, err)
	assert.False(t, obs.Exists)
}

func TestCacheCreate_RunsEngineContainer(t *testing.T) {
	fake := &fakeClient{
		containerInspect: func(name string) (types.ContainerJSON, error) {
			return types.ContainerJSON{}, notFoundErr{}
		},
		imageInspect: func(ref string) (types.ImageInspect, error) {
			return types.ImageInspect{}, notFoundErr{}
		},
	}
	a := &cacheAdapter{localProvider(fake)}

	res, err := a.CreateOrUpdate(context.Background(), cacheReq(), provider.NotFound())
	require.NoError(t, err)

	assert.Equal(t, []string{"redis:7-alpine"}, fake.pulled)
	require.Len(t, fake.created, 1)
	created := fake.created[0]
	assert.Equal(t, "talentradar-cache", created.name)
	assert.Equal(t, "redis:7-alpine", created.config.Image)
	assert.Equal(t, "talentradar-rg", created.config.Labels[groupLabel])
	require.NotNil(t, created.config.Healthcheck)
	assert.Contains(t, created.config.Healthcheck.Test, "redis-cli")
	assert.Equal(t, container.NetworkMode("talentradar-rg"), created.host.NetworkMode)
	bindings := created.host.PortBindings[nat.Port("6379/tcp")]
	require.Len(t, bindings, 1)
	assert.Equal(t, nat.PortBinding{HostIP: "127.0.0.1", HostPort: "6380"}, bindings[0])
	assert.Equal(t, container.RestartPolicyUnlessStopped, created.host.RestartPolicy.Name)
	assert.Equal(t, []string{"ctr-talentradar-cache"}, fake.started)

	// Dependents connect in-network by container name, so the secret
	// carries the container port even when the host binding differs.
	assert.Equal(t, "redis://talentradar-cache:6379", res.Secrets[ir.SecretConnectionString])
}

func TestCacheCreate_ReplacesLeftoverContainer(t *testing.T) {
	fake := &fakeClient{
		containerInspect: func(name string) (types.ContainerJSON, error) {
			return runningContainer("redis:7-alpine", nil, "6379", "6379"), nil
		},
		imageInspect: func(ref string) (types.ImageInspect, error) {
			return types.ImageInspect{ID: "sha256:ddd444"}, nil
		},
	}
	a := &cacheAdapter{localProvider(fake)}

	_, err := a.CreateOrUpdate(context.Background(), cacheReq(), provider.Found(map[string]string{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"talentradar-cache"}, fake.stopped)
	assert.Equal(t, []string{"talentradar-cache"}, fake.removed)
	assert.Empty(t, fake.pulled, "a cached image must not be pulled again")
	assert.Len(t, fake.created, 1)
}

func TestAppDescribe_ReadsEnvAndPublishesURL(t *testing.T) {
	fake := &fakeClient{
		containerInspect: func(name string) (types.ContainerJSON, error) {
			return runningContainer(
				"registry.example.com/talentradar:v7",
				[]string{"APP_ENV=prod"},
				"8501", "8501",
			), nil
		},
	}
	a := &appAdapter{localProvider(fake)}

	obs, err := a.Describe(context.Background(), appReq())
	require.NoError(t, err)
	require.True(t, obs.Exists)
	assert.Equal(t, "registry.example.com/talentradar:v7", obs.Attrs[ir.KeyImage])
	assert.Equal(t, "prod", obs.Attrs[ir.EnvPrefix+"APP_ENV"])
	assert.Equal(t, "8501", obs.Attrs[ir.KeyPort])
	assert.Equal(t, "http://localhost:8501", obs.Secrets[ir.SecretURL])
}

func TestAppCreate_WiresEnvNetworkAndPorts(t *testing.T) {
	fake := &fakeClient{
		containerInspect: func(name string) (types.ContainerJSON, error) {
			return types.ContainerJSON{}, notFoundErr{}
		},
		imageInspect: func(ref string) (types.ImageInspect, error) {
			return types.ImageInspect{ID: "sha256:eee555"}, nil
		},
	}
	a := &appAdapter{localProvider(fake)}

	res, err := a.CreateOrUpdate(context.Background(), appReq(), provider.NotFound())
	require.NoError(t, err)

	require.Len(t, fake.created, 1)
	created := fake.created[0]
	assert.Equal(t, "talentradar", created.name)
	assert.Equal(t, "registry.example.com/talentradar:v7", created.config.Image)
	assert.Equal(t, []string{
		"APP_ENV=prod",
		"CACHE_CONNECTION_STRING=redis://talentradar-cache:6379",
	}, created.config.Env)
	assert.Contains(t, created.config.ExposedPorts, nat.Port("8501/tcp"))
	assert.Equal(t, container.NetworkMode("talentradar-rg"), created.host.NetworkMode)
	bindings := created.host.PortBindings[nat.Port("8501/tcp")]
	require.Len(t, bindings, 1)
	assert.Equal(t, nat.PortBinding{HostIP: "0.0.0.0", HostPort: "8501"}, bindings[0])
	assert.Equal(t, []string{"ctr-talentradar"}, fake.started)
	assert.Equal(t, "http://localhost:8501", res.Secrets[ir.SecretURL])
}

func TestEnvList_SortedAndStripped(t *testing.T) {
	env := envList(map[string]string{
		ir.EnvPrefix + "ZED": "26",
		ir.EnvPrefix + "APP": "talentradar",
		ir.KeyPort:           "8501",
	})
	assert.Equal(t, []string{"APP=talentradar", "ZED=26"}, env)
}

func TestCacheImage(t *testing.T) {
	assert.Equal(t, "redis:7-alpine", cacheImage(""))
	assert.Equal(t, "redis:7-alpine", cacheImage("redis"))
	assert.Equal(t, "valkey/valkey:8-alpine", cacheImage("valkey"))
	assert.Equal(t, "memcached:1.6", cacheImage("memcached:1.6"))
}

func TestEngineOf(t *testing.T) {
	assert.Equal(t, "redis", engineOf("redis:7-alpine"))
	assert.Equal(t, "valkey", engineOf("valkey/valkey:8-alpine"))
	assert.Equal(t, "redis", engineOf("redis"))
}

func TestPublishedPort_NoSettings(t *testing.T) {
	assert.Empty(t, publishedPort(types.ContainerJSON{}))
}

func cacheReq() provider.Request {
	return provider.Request{
		Kind: ir.KindCache,
		Name: "talentradar-cache",
		Config: map[string]string{
			ir.KeyEngine: "redis",
			ir.KeyPort:   "6380",
		},
	}
}

func appReq() provider.Request {
	return provider.Request{
		Kind: ir.KindApplication,
		Name: "talentradar",
		Config: map[string]string{
			ir.KeyImage: "registry.example.com/talentradar:v7",
			ir.KeyPort:  "8501",
			ir.EnvPrefix + "APP_ENV":                 "prod",
			ir.EnvPrefix + "CACHE_CONNECTION_STRING": "redis://talentradar-cache:6379",
		},
	}
}
