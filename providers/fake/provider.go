// Package fake is an in-memory provider set. It materializes nothing:
// resources live in a map, secrets are deterministic, and every call is
// recorded. It backs --provider fake for rehearsing a deployment
// end-to-end and gives tests a provider with scriptable failures.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
)

type resource struct {
	config  map[string]string
	secrets map[string]string
}

// Provider stores resources keyed by kind.name identity.
type Provider struct {
	mu        sync.Mutex
	resources map[string]resource

	describeErrs map[string][]error
	applyErrs    map[string]error

	describes []string
	applies   []string
}

func New() *Provider {
	return &Provider{
		resources:    make(map[string]resource),
		describeErrs: make(map[string][]error),
		applyErrs:    make(map[string]error),
	}
}

// Register binds the provider to every kind in the topology.
func (p *Provider) Register(reg *provider.Registry) {
	for _, kind := range ir.Kinds() {
		reg.Register(kind, p)
	}
}

// Registry returns a registry serving every kind from this provider.
func (p *Provider) Registry() *provider.Registry {
	reg := provider.NewRegistry()
	p.Register(reg)
	return reg
}

// Seed pre-populates a resource, as if an earlier run created it.
func (p *Provider) Seed(kind ir.Kind, name string, config, secrets map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resources[identity(kind, name)] = resource{config: clone(config), secrets: clone(secrets)}
}

// FailDescribe queues errors returned by successive Describe calls for
// one resource. Once the queue drains, Describe behaves normally.
func (p *Provider) FailDescribe(kind ir.Kind, name string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := identity(kind, name)
	p.describeErrs[key] = append(p.describeErrs[key], errs...)
}

// FailApply makes every CreateOrUpdate for one resource fail.
func (p *Provider) FailApply(kind ir.Kind, name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyErrs[identity(kind, name)] = err
}

// Describes returns the identities probed so far, in call order.
func (p *Provider) Describes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.describes...)
}

// Applies returns the identities applied so far, in call order.
func (p *Provider) Applies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applies...)
}

// Describe implements provider.Adapter.
func (p *Provider) Describe(_ context.Context, req provider.Request) (provider.Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := identity(req.Kind, req.Name)
	p.describes = append(p.describes, key)

	if queue := p.describeErrs[key]; len(queue) > 0 {
		err := queue[0]
		p.describeErrs[key] = queue[1:]
		return provider.NotFound(), err
	}

	res, ok := p.resources[key]
	if !ok {
		return provider.NotFound(), nil
	}
	return provider.FoundWithSecrets(clone(res.config), clone(res.secrets)), nil
}

// CreateOrUpdate implements provider.Adapter. The stored state echoes
// the desired config, so a follow-up run always converges to a skip.
func (p *Provider) CreateOrUpdate(_ context.Context, req provider.Request, _ provider.Observation) (provider.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := identity(req.Kind, req.Name)
	p.applies = append(p.applies, key)

	if err := p.applyErrs[key]; err != nil {
		return provider.Result{}, err
	}

	secrets := syntheticSecrets(req)
	p.resources[key] = resource{config: clone(req.Config), secrets: clone(secrets)}
	return provider.Result{Secrets: secrets}, nil
}

// syntheticSecrets fabricates the per-kind outputs a real provider would
// return, derived only from the request so runs stay deterministic.
func syntheticSecrets(req provider.Request) map[string]string {
	switch req.Kind {
	case ir.KindContainerRegistry:
		return map[string]string{
			ir.SecretLoginServer: fmt.Sprintf("%s.registry.fake.local", req.Name),
			ir.SecretUsername:    "fake-token",
			ir.SecretPassword:    fmt.Sprintf("fake-password-%s", req.Name),
		}
	case ir.KindContainerImage:
		ref := fmt.Sprintf("%s/%s", req.Config[ir.KeyRegistry], req.Config[ir.KeyTag])
		return map[string]string{ir.SecretImageRef: ref}
	case ir.KindCache:
		port := req.Config[ir.KeyPort]
		if port == "" {
			port = "6379"
		}
		return map[string]string{
			ir.SecretConnectionString: fmt.Sprintf("redis://%s.cache.fake.local:%s", req.Name, port),
			ir.SecretEndpoint:         fmt.Sprintf("%s.cache.fake.local:%s", req.Name, port),
		}
	case ir.KindApplication:
		port := req.Config[ir.KeyPort]
		if port == "" {
			port = "80"
		}
		return map[string]string{
			ir.SecretURL: fmt.Sprintf("http://%s.app.fake.local:%s", req.Name, port),
		}
	default:
		return nil
	}
}

func identity(kind ir.Kind, name string) string {
	return fmt.Sprintf("%s.%s", kind, name)
}

func clone(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
