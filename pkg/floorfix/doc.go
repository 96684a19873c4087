// Package floorfix estimates the true floor height from a controller resting
// on the floor and writes the correction into the tracking origin.
//
// A Calibrator is driven by its host: Start opens a session, then Tick is
// called once per frame with a fresh pose snapshot. The first tick picks the
// lower of the two hand controllers as the reference and freezes its height;
// each following tick folds the reference's roll into an online circular mean.
// When the configured number of samples has been taken, the height minus the
// grip-dependent correction is handed to the OriginSink exactly once.
//
// The Calibrator is not safe for concurrent use. Start, Tick, Abort and Status
// must be called from one goroutine.
package floorfix
