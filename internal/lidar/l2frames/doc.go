// Package l2frames owns Layer 2 (Frames) of the LiDAR data model.
//
// Responsibilities: the organized point cloud produced for each scan, the
// coordinate-frame transform capability applied to its points, per-cloud
// summary statistics and export formats.
//
// Dependency rule: L2 may depend on L1, but never on the decoding engine.
package l2frames
