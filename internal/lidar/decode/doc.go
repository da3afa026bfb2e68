/*
Package decode turns scans of raw Velodyne packets into calibrated,
organized point clouds.

DECODE PATHS:
 1. Block decoder (HDL-32E/HDL-64E): one rotation per block shared by all 32
    returns; the bank header selects lasers 0-31 (0xEEFF) or 32-63 (0xDDFF).
    Columns fill sequentially from a running point counter.
 2. Firing decoder (VLP-16): two 16-channel firings per block; each channel's
    azimuth is interpolated from the rotation difference to the next block
    with new azimuth data and the channel's firing time. Dual-return packets
    interleave the two returns into adjacent columns.

The path is selected by the calibration's laser count (16 lasers selects the
firing decoder).

SHARED STATE:
Calibration and AngleTable are built once and only read during decoding, so
one Decoder may serve concurrent Unpack calls. Each call owns its cloud and
per-packet state. Params may be replaced between scans with SetParams; a
call uses the params current when it started.

ERROR POLICY:
  - invalid calibration or params: returned from NewDecoder/SetParams
  - malformed packet: throttled warning, rest of that packet skipped
  - gate or range rejection: silent, counted in ScanStats
  - transform failure: throttled warning, point dropped
*/
package decode
