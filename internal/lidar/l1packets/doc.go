// Package l1packets owns Layer 1 (Packets) of the LiDAR data model.
//
// Responsibilities: raw UDP packet ingestion, PCAP replay, scan assembly
// and low-level byte parsing, split across the network and parse
// subpackages. This layer produces scans consumed by the decoder.
//
// Dependency rule: L1 has no inward dependencies on higher layers.
package l1packets
