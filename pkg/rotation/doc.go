// Package rotation runs credential rotation passes for declared specs.
//
// A pass has three steps, each of which can run on its own:
//
//   - Evaluate asks the clock gate whether the current epoch has expired.
//   - Plan generates (or restores) the credential of the current epoch,
//     stages its password in the spec's secret store, refreshes the remote
//     state of every resource and diffs it into a binder.Plan.
//   - Apply executes a plan: replaced resources are destroyed dependents
//     first, then resources are created and updated in dependency order. The
//     new credential is verified and promoted, and only then is the previous
//     password deleted.
//
// Rotate runs Plan and Apply under one lock.
//
// # State
//
// Every step ends by saving the spec's state record atomically. The record
// holds the last epoch, the current and pending credentials (by reference),
// the binding state and the remote state cache. A saved plan remembers the
// record serial it was computed against; applying it after the record moved
// on fails with ErrStalePlan.
//
// # Concurrency
//
// Only one pass per spec runs at a time, in process and across processes.
// A second pass fails immediately with ErrReconciliationInProgress rather
// than waiting.
//
// # Failures
//
// A failed destroy or create leaves the binding in the destroying state and
// returns ProvisioningFailed. Nothing is rolled back: the next pass refreshes
// remote state and plans from what actually exists.
package rotation
