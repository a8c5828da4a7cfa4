// Package lifecycle tracks the observable lifecycle of one managed
// application inside a desktop container.
//
// A [Tracker] combines three signal sources that disagree in timing:
//
//   - pushed "started" and "closed" events from the container transport,
//     recorded in write-once [EventFlag] values
//   - running-state queries answered by the container
//   - the start and stop actions issued through the tracker itself
//
// The resulting [State] machine runs NotRunning -> Starting -> Running ->
// Stopping -> Closed. Re-attaching creates a new subscription generation:
// flags start unset again and callbacks from an older generation are
// dropped.
//
// Assertions go through [Tracker.AwaitRunningState] and
// [Tracker.AwaitEventFired], both built on the poll package. They report
// the last observed value and leave the pass/fail decision to the caller.
package lifecycle
