package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
)

// LatestScan is the most recently decoded scan.
type LatestScan struct {
	Cloud    *l2frames.OrganizedCloud
	Stats    decode.ScanStats
	Summary  l2frames.CloudSummary
	Took     time.Duration
	Received time.Time
}

// Latest holds the last published scan for the web handlers. Published
// clouds must not be modified afterwards.
type Latest struct {
	mu    sync.RWMutex
	scan  *LatestScan
	count int64
}

// Publish replaces the held scan.
func (l *Latest) Publish(cloud *l2frames.OrganizedCloud, stats decode.ScanStats, took time.Duration) {
	s := &LatestScan{
		Cloud:    cloud,
		Stats:    stats,
		Summary:  l2frames.Summarize(cloud),
		Took:     took,
		Received: time.Now(),
	}
	l.mu.Lock()
	l.scan = s
	l.count++
	l.mu.Unlock()
}

// Get returns the held scan, or nil before the first Publish.
func (l *Latest) Get() *LatestScan {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scan
}

// Count returns how many scans have been published.
func (l *Latest) Count() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
