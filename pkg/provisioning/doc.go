// Package provisioning defines the contract between credrotate and the
// external API that owns managed resources.
//
// The orchestrator treats the provisioning API as an opaque remote service
// reachable through four calls keyed by resource identifiers:
//
//	Create(spec)            -> ResourceID
//	Read(id)                -> RemoteState | ErrNotFound
//	Update(id, fields)      -> RemoteState
//	Destroy(id)
//
// # Idempotency
//
// Read is safe to retry. Create and Destroy are not assumed idempotent: the
// caller records an acknowledged create in its state before doing anything
// else, and re-reads remote state before destroying. Implementations report
// transport failures wrapped in errors.ErrRemoteStateUnavailable so callers
// can tell a retryable refresh failure from a definitive answer.
//
// # Secrets
//
// ResourceSpec.Secrets carries write-only values such as an administrator
// password. They are sent on Create and never appear in RemoteState.
//
// # Implementations
//
// Memory (this package) is an in-process backend used by tests and by the
// contract suite in testing.go. Real backends live in internal/provisioning.
package provisioning
