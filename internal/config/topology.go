package config

import (
	"strconv"

	"github.com/slipway-io/slipway/internal/ir"
)

// Node ids of the fixed topology. Stable across runs so records and
// progress output stay comparable.
const (
	NodeGroup     = "group"
	NodeRegistry  = "registry"
	NodeImage     = "image"
	NodePlan      = "plan"
	NodeApp       = "app"
	NodeCache     = "cache"
	NodeAutoscale = "autoscale"
)

// Topology expands the declaration into the seven node graph: resource
// group, registry, image, compute plan, application, cache and the
// best-effort autoscale policy. Dependencies between them are fixed;
// the cache connection string reaches the app through the envelope.
// Per-node overrides from the nodes: section are applied last.
func (c *Config) Topology() []*ir.Node {
	nodes := c.baseTopology()
	for _, n := range nodes {
		ov, ok := c.Nodes[n.ID]
		if !ok {
			continue
		}
		if n.Config == nil && (len(ov.Config) > 0 || len(ov.Env) > 0) {
			n.Config = make(map[string]string)
		}
		for k, v := range ov.Config {
			n.Config[k] = v
		}
		for k, v := range ov.Env {
			n.Config[ir.EnvPrefix+k] = v
		}
	}
	return nodes
}

func (c *Config) baseTopology() []*ir.Node {
	d := c.Deployment

	appConfig := map[string]string{
		ir.KeyImage:        ir.Ref(NodeImage, ir.SecretImageRef),
		ir.KeyCluster:      d.Plan,
		ir.KeyPort:         strconv.Itoa(d.AppPort),
		ir.KeyCPU:          strconv.Itoa(d.CPU),
		ir.KeyMemory:       strconv.Itoa(d.Memory),
		ir.KeyDesiredCount: strconv.Itoa(d.DesiredCount),

		ir.EnvPrefix + "CACHE_CONNECTION_STRING": ir.Ref(NodeCache, ir.SecretConnectionString),
		ir.EnvPrefix + "PORT":                    strconv.Itoa(d.AppPort),
	}
	for k, v := range d.AppEnv {
		appConfig[ir.EnvPrefix+k] = v
	}

	return []*ir.Node{
		{
			ID: NodeGroup, Kind: ir.KindResourceGroup, Name: d.ResourceGroup,
			Config: map[string]string{ir.KeyLocation: d.Location},
		},
		{
			ID: NodeRegistry, Kind: ir.KindContainerRegistry, Name: d.Registry,
			DependsOn: []string{NodeGroup},
		},
		{
			ID: NodeImage, Kind: ir.KindContainerImage, Name: d.Image,
			DependsOn: []string{NodeRegistry},
			Config: map[string]string{
				ir.KeyRegistry:    ir.Ref(NodeRegistry, ir.SecretLoginServer),
				ir.KeyTag:         d.Image,
				ir.KeyContext:     d.BuildContext,
				ir.KeyDockerfile:  d.Dockerfile,
				ir.SecretUsername: ir.Ref(NodeRegistry, ir.SecretUsername),
				ir.SecretPassword: ir.Ref(NodeRegistry, ir.SecretPassword),
			},
		},
		{
			ID: NodePlan, Kind: ir.KindComputePlan, Name: d.Plan,
			DependsOn: []string{NodeGroup},
			Config:    map[string]string{ir.KeyLocation: d.Location},
		},
		{
			ID: NodeApp, Kind: ir.KindApplication, Name: d.App,
			DependsOn: []string{NodeGroup, NodePlan, NodeImage},
			Config:    appConfig,
		},
		{
			ID: NodeCache, Kind: ir.KindCache, Name: d.Cache,
			DependsOn: []string{NodeGroup},
			Config: map[string]string{
				ir.KeyEngine:   "redis",
				ir.KeyPort:     strconv.Itoa(d.CachePort),
				ir.KeyNodeType: d.CacheNodeType,
			},
		},
		{
			ID: NodeAutoscale, Kind: ir.KindAutoscalePolicy, Name: d.App + "-scaling",
			DependsOn:   []string{NodeApp},
			Criticality: ir.BestEffort,
			Config: map[string]string{
				ir.KeyCluster:     d.Plan,
				ir.KeyService:     d.App,
				ir.KeyMinCapacity: strconv.Itoa(d.AutoscaleMin),
				ir.KeyMaxCapacity: strconv.Itoa(d.AutoscaleMax),
				ir.KeyTargetCPU:   strconv.Itoa(d.TargetCPU),
			},
		},
	}
}
