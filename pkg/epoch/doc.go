// Package epoch implements the rotation clock gate.
//
// An Epoch is one rotation interval. Evaluate is a pure function of the
// caller supplied time, the last recorded epoch and the interval: it returns
// the last epoch while it is still fresh and a new epoch, numbered one past
// the last, once the interval has elapsed. The gate never samples the wall
// clock itself, so passes are deterministic and replayable in tests.
package epoch
