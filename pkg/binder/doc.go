// Package binder propagates a credential to the resources that depend on it.
//
// A spec's resources form a directed acyclic graph rooted at the rotation
// epoch and the credential generated for it:
//
//	epoch -> credential -> server -> firewall
//	                    \-> replica
//
// Reconcile walks the graph in topological order, compares each resource's
// desired fields with the last refreshed remote state and emits a Plan of
// create, update-in-place and destroy-then-create actions. Replacing a
// resource replaces everything that depends on it.
//
// Plans never contain password values. The password for a bound resource is
// resolved from a secret store reference when the plan is applied.
package binder
