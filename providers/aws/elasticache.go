package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	cachetypes "github.com/aws/aws-sdk-go-v2/service/elasticache/types"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

var cachePollInterval = 15 * time.Second

// cacheAdapter provisions a single-node ElastiCache cluster. Creation
// is slow: the adapter polls until the cluster is available, because
// its connection string only exists once the endpoint does, and the
// application node needs it.
type cacheAdapter struct {
	p *Provider
}

func (a *cacheAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	cluster, err := a.describeCluster(ctx, req.Name)
	if err != nil {
		return provider.NotFound(), err
	}
	if cluster == nil {
		return provider.NotFound(), nil
	}

	obs := provider.Found(clusterAttrs(cluster))
	if conn, endpoint := connectionString(cluster); conn != "" {
		obs.Secrets = map[string]string{
			ir.SecretConnectionString: conn,
			ir.SecretEndpoint:         endpoint,
		}
	}
	return obs, nil
}

func (a *cacheAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if err := a.p.wait(ctx); err != nil {
		return provider.Result{}, err
	}

	if observed.Exists {
		_, err := a.p.clients.Cache.ModifyCacheCluster(ctx, &elasticache.ModifyCacheClusterInput{
			CacheClusterId:   strPtr(req.Name),
			CacheNodeType:    strPtr(req.Config[ir.KeyNodeType]),
			ApplyImmediately: boolPtr(true),
		})
		if err != nil {
			return provider.Result{}, classify("elasticache", "ModifyCacheCluster", err)
		}
	} else {
		engine := req.Config[ir.KeyEngine]
		if engine == "" {
			engine = "redis"
		}
		port, _ := strconv.Atoi(req.Config[ir.KeyPort])
		if port == 0 {
			port = 6379
		}

		_, err := a.p.clients.Cache.CreateCacheCluster(ctx, &elasticache.CreateCacheClusterInput{
			CacheClusterId: strPtr(req.Name),
			Engine:         strPtr(engine),
			CacheNodeType:  strPtr(req.Config[ir.KeyNodeType]),
			NumCacheNodes:  int32Ptr(1),
			Port:           int32Ptr(int32(port)),
			Tags:           []cachetypes.Tag{{Key: strPtr(groupTagKey), Value: strPtr(a.p.opts.ResourceGroup)}},
		})
		if err != nil {
			var exists *cachetypes.CacheClusterAlreadyExistsFault
			if !errors.As(err, &exists) {
				return provider.Result{}, classify("elasticache", "CreateCacheCluster", err)
			}
		}
	}

	return a.waitAvailable(ctx, req.Name)
}

// waitAvailable polls until the cluster reports available and exposes
// its endpoint. The engine's node timeout bounds the wait.
func (a *cacheAdapter) waitAvailable(ctx context.Context, name string) (provider.Result, error) {
	check := func() (provider.Result, bool, error) {
		cluster, err := a.describeCluster(ctx, name)
		if err != nil {
			return provider.Result{}, false, err
		}
		if cluster == nil || stringValue(cluster.CacheClusterStatus) != "available" {
			return provider.Result{}, false, nil
		}
		conn, endpoint := connectionString(cluster)
		if conn == "" {
			return provider.Result{}, false, nil
		}
		return provider.Result{Secrets: map[string]string{
			ir.SecretConnectionString: conn,
			ir.SecretEndpoint:         endpoint,
		}}, true, nil
	}

	if res, done, err := check(); done || (err != nil && !apperrors.IsTransient(err)) {
		return res, err
	}

	ticker := time.NewTicker(cachePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return provider.Result{}, apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout,
				fmt.Sprintf("cache cluster %s did not become available", name))
		case <-ticker.C:
			res, done, err := check()
			if err != nil {
				if apperrors.IsTransient(err) {
					logging.Debug("cache poll hit transient error", "cluster", name, "err", err)
					continue
				}
				return provider.Result{}, err
			}
			if done {
				return res, nil
			}
		}
	}
}

func (a *cacheAdapter) describeCluster(ctx context.Context, name string) (*cachetypes.CacheCluster, error) {
	if err := a.p.wait(ctx); err != nil {
		return nil, err
	}

	out, err := a.p.clients.Cache.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{
		CacheClusterId:    strPtr(name),
		ShowCacheNodeInfo: boolPtr(true),
	})
	if err != nil {
		var notFound *cachetypes.CacheClusterNotFoundFault
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, classify("elasticache", "DescribeCacheClusters", err)
	}
	if len(out.CacheClusters) == 0 {
		return nil, nil
	}
	return &out.CacheClusters[0], nil
}

func clusterAttrs(cluster *cachetypes.CacheCluster) map[string]string {
	attrs := map[string]string{
		ir.KeyEngine:   stringValue(cluster.Engine),
		ir.KeyNodeType: stringValue(cluster.CacheNodeType),
	}
	if len(cluster.CacheNodes) > 0 && cluster.CacheNodes[0].Endpoint != nil {
		attrs[ir.KeyPort] = strconv.Itoa(int(int32Value(cluster.CacheNodes[0].Endpoint.Port)))
	}
	return attrs
}

func connectionString(cluster *cachetypes.CacheCluster) (conn, endpoint string) {
	if len(cluster.CacheNodes) == 0 || cluster.CacheNodes[0].Endpoint == nil {
		return "", ""
	}
	ep := cluster.CacheNodes[0].Endpoint
	host := stringValue(ep.Address)
	if host == "" {
		return "", ""
	}
	endpoint = fmt.Sprintf("%s:%d", host, int32Value(ep.Port))
	return fmt.Sprintf("redis://%s", endpoint), endpoint
}
