// Package pipeline turns assembled scans into organized clouds and hands
// the results to the sinks: statistics, the scan store, the monitor and
// optional PCD files.
//
// It is the composition root for the lidar packages; none of them import
// pipeline.
package pipeline
