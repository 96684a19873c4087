// Package calibration defines the types used by the floor fix workflow. It
// contains:
//
//   - Phase: the discrete steps of the floor fix state machine
//   - Result: the outcome of a completed session
//   - Status: a synthesized view model returned by HTTP APIs and the CLI
//   - AcquisitionError: why a session could not pick its reference controller
//
// These types are shared across the calibrator, daemon and client code to keep
// JSON contracts consistent.
package calibration
