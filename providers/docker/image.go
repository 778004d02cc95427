package docker

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

// imageAdapter builds (or pulls) the application image and pushes it to
// the registry node's endpoint. With no registry configured it works
// purely against the local engine, which is the local runtime mode.
//
// The produced secret imageRef is the exact reference dependents deploy.
type imageAdapter struct {
	p *Provider
}

// imageRef composes the deployable reference. The registry half comes
// resolved from the registry node's loginServer secret.
func imageRef(config map[string]string) string {
	tag := config[ir.KeyTag]
	if reg := config[ir.KeyRegistry]; reg != "" {
		return reg + "/" + tag
	}
	return tag
}

func (a *imageAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	ref := imageRef(req.Config)
	if req.Config[ir.KeyRegistry] == "" {
		return a.describeLocal(ctx, ref, req.Config)
	}

	auth, err := encodedAuth(req.Config)
	if err != nil {
		return provider.NotFound(), err
	}

	dist, err := a.p.cli.DistributionInspect(ctx, ref, auth)
	if err != nil {
		if isManifestNotFound(err) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("manifest lookup for "+ref, err)
	}

	// The tag attribute matches the desired one unless the local image
	// diverged from what the registry holds; then the remote digest is
	// reported instead, which reads as drift and triggers a fresh push.
	attrs := map[string]string{ir.KeyTag: req.Config[ir.KeyTag]}
	remoteDigest := dist.Descriptor.Digest.String()
	if local, ok := a.localDigests(ctx, ref); ok && !local[remoteDigest] {
		attrs[ir.KeyTag] = remoteDigest
	}

	return provider.FoundWithSecrets(attrs, map[string]string{ir.SecretImageRef: ref}), nil
}

func (a *imageAdapter) describeLocal(ctx context.Context, ref string, config map[string]string) (provider.Observation, error) {
	_, _, err := a.p.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("image inspect", err)
	}
	return provider.FoundWithSecrets(
		map[string]string{ir.KeyTag: config[ir.KeyTag]},
		map[string]string{ir.SecretImageRef: ref},
	), nil
}

func (a *imageAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	ref := imageRef(req.Config)

	if buildContext := req.Config[ir.KeyContext]; buildContext != "" {
		if err := a.build(ctx, ref, buildContext, req.Config[ir.KeyDockerfile]); err != nil {
			return provider.Result{}, err
		}
	} else if err := a.pullAndTag(ctx, req.Config[ir.KeyTag], ref); err != nil {
		return provider.Result{}, err
	}

	if req.Config[ir.KeyRegistry] != "" {
		if err := a.push(ctx, ref, req.Config); err != nil {
			return provider.Result{}, err
		}
	}

	return provider.Result{Secrets: map[string]string{ir.SecretImageRef: ref}}, nil
}

func (a *imageAdapter) build(ctx context.Context, ref, buildContext, dockerfile string) error {
	logging.Info("building image", "ref", ref, "context", buildContext)

	tar, err := archive.TarWithOptions(buildContext, &archive.TarOptions{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigValidation, "unable to read build context "+buildContext)
	}
	defer tar.Close()

	resp, err := a.p.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return classify("image build", err)
	}
	return drainStream(resp.Body, "image build")
}

// pullAndTag covers the prebuilt-image path: the tag names an image that
// already exists in some public registry, it just needs to carry the
// push target's name.
func (a *imageAdapter) pullAndTag(ctx context.Context, source, ref string) error {
	reader, err := a.p.cli.ImagePull(ctx, source, image.PullOptions{})
	if err != nil {
		return classify("image pull", err)
	}
	if err := drainStream(reader, "image pull"); err != nil {
		return err
	}
	if source == ref {
		return nil
	}
	if err := a.p.cli.ImageTag(ctx, source, ref); err != nil {
		return classify("image tag", err)
	}
	return nil
}

func (a *imageAdapter) push(ctx context.Context, ref string, config map[string]string) error {
	auth, err := encodedAuth(config)
	if err != nil {
		return err
	}

	logging.Info("pushing image", "ref", ref)
	reader, err := a.p.cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return classify("image push", err)
	}
	return drainStream(reader, "image push")
}

// localDigests collects the repo digests of the locally held image.
// ok=false means there is no local image to compare against, in which
// case the registry's copy counts as current.
func (a *imageAdapter) localDigests(ctx context.Context, ref string) (map[string]bool, bool) {
	inspect, _, err := a.p.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return nil, false
	}
	digests := make(map[string]bool, len(inspect.RepoDigests))
	for _, rd := range inspect.RepoDigests {
		if _, digest, ok := strings.Cut(rd, "@"); ok {
			digests[digest] = true
		}
	}
	return digests, len(digests) > 0
}

// encodedAuth builds the base64 auth blob push and manifest calls carry.
// Username and password arrive resolved from the registry node.
func encodedAuth(config map[string]string) (string, error) {
	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      config[ir.SecretUsername],
		Password:      config[ir.SecretPassword],
		ServerAddress: config[ir.KeyRegistry],
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "unable to encode registry auth")
	}
	return auth, nil
}

// isManifestNotFound covers both the typed engine not-found and the
// raw manifest unknown distribution error some registries return.
func isManifestNotFound(err error) bool {
	if client.IsErrNotFound(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "manifest unknown") || strings.Contains(msg, "not found")
}
