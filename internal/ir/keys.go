package ir

import "fmt"

// Config keys understood by the builtin adapters. One vocabulary shared
// by topology builders and adapters so the two sides cannot drift.
const (
	KeyLocation     = "location"
	KeyImage        = "image"
	KeyPort         = "port"
	KeyCPU          = "cpu"
	KeyMemory       = "memory"
	KeyDesiredCount = "desiredCount"
	KeyEngine       = "engine"
	KeyNodeType     = "nodeType"
	KeyMinCapacity  = "minCapacity"
	KeyMaxCapacity  = "maxCapacity"
	KeyTargetCPU    = "targetCpu"
	KeyRegistry     = "registry"
	KeyTag          = "tag"
	KeyContext      = "context"
	KeyDockerfile   = "dockerfile"
	KeyCluster      = "cluster"
	KeyService      = "service"

	// EnvPrefix marks config keys forwarded verbatim into the
	// application container's environment.
	EnvPrefix = "env."
)

// Secret names the builtin adapters publish into the credential
// envelope.
const (
	SecretConnectionString = "connectionString"
	SecretEndpoint         = "endpoint"
	SecretLoginServer      = "loginServer"
	SecretUsername         = "username"
	SecretPassword         = "password"
	SecretImageRef         = "imageRef"
	SecretURL              = "url"
)

// Ref renders the placeholder syntax for one node's secret.
func Ref(nodeID, secret string) string {
	return fmt.Sprintf("${%s.%s}", nodeID, secret)
}
