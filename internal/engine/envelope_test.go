package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/slipway-io/slipway/internal/errors"
)

func TestEnvelope_MergeAndLookup(t *testing.T) {
	env := NewEnvelope()
	require.NoError(t, env.Merge("cache", map[string]string{
		"connectionString": "redis://10.0.0.5:6379",
	}))

	got, ok := env.Lookup("cache", "connectionString")
	require.True(t, ok)
	assert.Equal(t, "redis://10.0.0.5:6379", got)

	_, ok = env.Lookup("cache", "password")
	assert.False(t, ok)
	_, ok = env.Lookup("registry", "password")
	assert.False(t, ok)
}

func TestEnvelope_InsertOnce(t *testing.T) {
	env := NewEnvelope()
	require.NoError(t, env.Merge("cache", map[string]string{"connectionString": "first"}))

	err := env.Merge("cache", map[string]string{"connectionString": "second"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInternal, apperrors.GetCode(err))

	// The original value survives the rejected write.
	got, _ := env.Lookup("cache", "connectionString")
	assert.Equal(t, "first", got)
}

func TestEnvelope_MergeDisjointKeys(t *testing.T) {
	env := NewEnvelope()
	require.NoError(t, env.Merge("registry", map[string]string{"username": "AWS"}))
	require.NoError(t, env.Merge("registry", map[string]string{"password": "token"}))

	assert.Equal(t, []string{"password", "username"}, env.Keys("registry"))
}

func TestEnvelope_MergeEmptyIsNoop(t *testing.T) {
	env := NewEnvelope()
	require.NoError(t, env.Merge("cache", nil))
	assert.Empty(t, env.Keys("cache"))
}

func TestResolveConfig(t *testing.T) {
	env := NewEnvelope()
	require.NoError(t, env.Merge("cache", map[string]string{"connectionString": "redis://host:6379"}))
	require.NoError(t, env.Merge("registry", map[string]string{"loginServer": "123.dkr.ecr.eu-west-1.amazonaws.com"}))

	resolved, err := env.ResolveConfig(map[string]string{
		"CACHE_CONNECTION_STRING": "${cache.connectionString}",
		"IMAGE":                   "${registry.loginServer}/talentradar:latest",
		"PORT":                    "8501",
	})
	require.NoError(t, err)

	assert.Equal(t, "redis://host:6379", resolved["CACHE_CONNECTION_STRING"])
	assert.Equal(t, "123.dkr.ecr.eu-west-1.amazonaws.com/talentradar:latest", resolved["IMAGE"])
	assert.Equal(t, "8501", resolved["PORT"])
}

func TestResolveConfig_UnresolvedReference(t *testing.T) {
	env := NewEnvelope()

	_, err := env.ResolveConfig(map[string]string{
		"CACHE_CONNECTION_STRING": "${cache.connectionString}",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnresolvedReference, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "cache.connectionString")
	assert.Contains(t, err.Error(), "CACHE_CONNECTION_STRING")
}

func TestResolveConfig_MissingSecretName(t *testing.T) {
	env := NewEnvelope()
	require.NoError(t, env.Merge("cache", map[string]string{"connectionString": "redis://host:6379"}))

	// The node produced secrets, just not this one.
	_, err := env.ResolveConfig(map[string]string{
		"PASSWORD": "${cache.password}",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnresolvedReference, apperrors.GetCode(err))
}

func TestResolvePartial(t *testing.T) {
	env := NewEnvelope()
	require.NoError(t, env.Merge("cache", map[string]string{"connectionString": "redis://host:6379"}))

	resolved := env.ResolvePartial(map[string]string{
		"CACHE_CONNECTION_STRING": "${cache.connectionString}",
		"REGISTRY_URL":            "${registry.loginServer}",
	})

	assert.Equal(t, "redis://host:6379", resolved["CACHE_CONNECTION_STRING"])
	assert.Equal(t, "${registry.loginServer}", resolved["REGISTRY_URL"], "unknown references stay verbatim")
}

func TestReferencedNodes(t *testing.T) {
	config := map[string]string{
		"CACHE_CONNECTION_STRING": "${cache.connectionString}",
		"IMAGE":                   "${registry.loginServer}/talentradar:${image.tag}",
		"ALSO_CACHE":              "${cache.port}",
		"PORT":                    "8501",
	}

	assert.Equal(t, []string{"cache", "image", "registry"}, ReferencedNodes(config))
}

func TestReferencedNodes_NoRefs(t *testing.T) {
	assert.Empty(t, ReferencedNodes(map[string]string{"PORT": "8501"}))
	assert.Empty(t, ReferencedNodes(nil))
}

func TestEnvelope_ConcurrentMerge(t *testing.T) {
	env := NewEnvelope()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("node-%d", i)
			assert.NoError(t, env.Merge(id, map[string]string{"out": fmt.Sprintf("value-%d", i)}))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		got, ok := env.Lookup(fmt.Sprintf("node-%d", i), "out")
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("value-%d", i), got)
	}
}
