package errors

// Code classifies a failure for reporting and for retry policy.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeConfigValidation Code = "CONFIG_VALIDATION_ERROR"

	// Graph construction failures. Both abort before any side effect.
	CodeCyclicDependency  Code = "CYCLIC_DEPENDENCY"
	CodeDuplicateIdentity Code = "DUPLICATE_IDENTITY"
	CodeUnknownDependency Code = "UNKNOWN_DEPENDENCY"

	// CodeTransientProbe marks a probe failure worth retrying.
	CodeTransientProbe Code = "TRANSIENT_PROBE_FAILURE"

	// CodeUnresolvedReference marks a ${node.secret} placeholder whose
	// producer never ran. Always a dependency-ordering bug, never retried.
	CodeUnresolvedReference Code = "UNRESOLVED_REFERENCE"

	// Provider-side failures during create/update.
	CodeProviderRejected Code = "PROVIDER_REJECTED"
	CodeProviderAuth     Code = "PROVIDER_AUTH_ERROR"

	// CodeTimeout covers exhausted probe retries and convergence windows.
	CodeTimeout Code = "TIMEOUT"
)

func (c Code) String() string {
	return string(c)
}
