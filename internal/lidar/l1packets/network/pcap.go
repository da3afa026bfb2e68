package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/monitoring"
)

// pcapngMagic is the block type of a pcapng section header.
const pcapngMagic = 0x0A0D0D0A

// ReplayConfig configures PCAP replay.
type ReplayConfig struct {
	// Port selects UDP packets by source or destination port.
	Port int
	// SpeedMultiplier paces replay against capture timestamps (1.0 is real
	// time, 2.0 twice as fast). Zero replays as fast as possible.
	SpeedMultiplier float64
	Stats           *PacketStats
	Forwarder       *PacketForwarder
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Packets  int // UDP payloads delivered
	Skipped  int // frames that were not UDP on the configured port
	Duration time.Duration
}

// ReadPCAPFile replays the sensor packets of a pcap or pcapng file.
func ReadPCAPFile(ctx context.Context, path string, handler PacketHandler, cfg ReplayConfig) (ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReadPCAP(ctx, f, handler, cfg)
}

// ReadPCAP replays the sensor packets of a pcap or pcapng stream. Each
// payload is delivered with its capture timestamp as the packet stamp.
func ReadPCAP(ctx context.Context, r io.Reader, handler PacketHandler, cfg ReplayConfig) (ReplayResult, error) {
	src, linkType, err := openCapture(r)
	if err != nil {
		return ReplayResult{}, err
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	port := layers.UDPPort(cfg.Port)
	monitoring.Logf("PCAP replay: udp port %d (speed: %.1fx)", cfg.Port, cfg.SpeedMultiplier)

	packetSource := gopacket.NewPacketSource(src, linkType)
	packetSource.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var res ReplayResult
	start := time.Now()
	var lastCapture time.Time

	for {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		packet, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read PCAP packet %d: %w", res.Packets+res.Skipped+1, err)
		}

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || (udp.DstPort != port && udp.SrcPort != port) || len(udp.Payload) == 0 {
			res.Skipped++
			continue
		}

		captureTime := packet.Metadata().Timestamp
		if cfg.SpeedMultiplier > 0 && !lastCapture.IsZero() {
			if err := sleepContext(ctx, time.Duration(float64(captureTime.Sub(lastCapture))/cfg.SpeedMultiplier)); err != nil {
				res.Duration = time.Since(start)
				return res, err
			}
		}
		lastCapture = captureTime

		res.Packets++
		if cfg.Stats != nil {
			cfg.Stats.AddPacket(len(udp.Payload))
		}
		if cfg.Forwarder != nil {
			cfg.Forwarder.ForwardAsync(udp.Payload)
		}
		if handler != nil {
			data := make([]byte, len(udp.Payload))
			copy(data, udp.Payload)
			handler.HandlePacket(parse.Packet{Stamp: captureTime, Data: data})
		}
		if res.Packets%10000 == 0 {
			monitoring.Logf("PCAP progress: %d packets in %v", res.Packets, time.Since(start))
		}
	}

	res.Duration = time.Since(start)
	monitoring.Logf("PCAP replay complete: %d packets (%d skipped) in %v", res.Packets, res.Skipped, res.Duration)
	return res, nil
}

// openCapture detects pcap or pcapng from the first four bytes.
func openCapture(r io.Reader) (gopacket.PacketDataSource, layers.LinkType, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open pcapng stream: %w", err)
		}
		return ng, ng.LinkType(), nil
	}
	rd, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open pcap stream: %w", err)
	}
	return rd, rd.LinkType(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
