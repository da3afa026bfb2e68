package network

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/monitoring"
)

// PacketStats tracks ingest counters between log intervals. It is safe for
// concurrent use.
type PacketStats struct {
	mu           sync.Mutex
	packetCount  int64
	byteCount    int64
	droppedCount int64
	scanCount    int64
	pointCount   int64
	lastReset    time.Time

	totalPackets int64
	totalScans   int64
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{lastReset: time.Now()}
}

// AddPacket counts one received packet of the given size.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.totalPackets++
	ps.byteCount += int64(bytes)
}

// AddDropped counts a packet the forwarder could not queue.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddScan counts one decoded scan and its valid points.
func (ps *PacketStats) AddScan(points int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.scanCount++
	ps.totalScans++
	ps.pointCount += int64(points)
}

// StatsSnapshot is a point-in-time copy of the interval counters.
type StatsSnapshot struct {
	Packets  int64
	Bytes    int64
	Dropped  int64
	Scans    int64
	Points   int64
	Duration time.Duration

	TotalPackets int64
	TotalScans   int64
}

// GetAndReset returns the interval counters and starts a new interval.
func (ps *PacketStats) GetAndReset() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	s := StatsSnapshot{
		Packets:      ps.packetCount,
		Bytes:        ps.byteCount,
		Dropped:      ps.droppedCount,
		Scans:        ps.scanCount,
		Points:       ps.pointCount,
		Duration:     now.Sub(ps.lastReset),
		TotalPackets: ps.totalPackets,
		TotalScans:   ps.totalScans,
	}
	ps.packetCount, ps.byteCount, ps.droppedCount, ps.scanCount, ps.pointCount = 0, 0, 0, 0, 0
	ps.lastReset = now
	return s
}

// Totals returns the lifetime packet and scan counts.
func (ps *PacketStats) Totals() (packets, scans int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.totalPackets, ps.totalScans
}

// LogStats logs per-second rates for the interval and resets it.
func (ps *PacketStats) LogStats() {
	s := ps.GetAndReset()
	if s.Packets == 0 && s.Dropped == 0 {
		return
	}
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return
	}
	msg := fmt.Sprintf("Lidar stats (/sec): %.2f MB, %.1f packets, %.1f scans, %s points",
		float64(s.Bytes)/secs/(1024*1024), float64(s.Packets)/secs, float64(s.Scans)/secs,
		FormatWithCommas(int64(float64(s.Points)/secs)))
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", s.Dropped)
	}
	monitoring.Logf("%s", msg)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}
	var b strings.Builder
	b.WriteString(sign)
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
