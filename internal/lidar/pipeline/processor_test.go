package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/calibration"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/network"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/monitor"
	sqlite "github.com/banshee-data/velodyne-cloud/internal/lidar/storage/sqlite"
)

var testStamp = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDecoder(t *testing.T) *decode.Decoder {
	t.Helper()
	d, err := decode.NewDecoder(calibration.DefaultVLP16(), nil, decode.WithWarnf(t.Logf))
	require.NoError(t, err)
	return d
}

// vlp16Packet returns a single-return packet sweeping from start with
// every return at 5 m.
func vlp16Packet(t *testing.T, start int) []byte {
	t.Helper()
	raw := &parse.RawPacket{}
	raw.Status.ReturnMode = parse.ReturnStrongest
	for b := range raw.Blocks {
		raw.Blocks[b].Header = parse.UpperBank
		raw.Blocks[b].Rotation = uint16((start + b*40) % parse.RotationMaxUnits)
		for i := range raw.Blocks[b].Returns {
			raw.Blocks[b].Returns[i] = parse.Return{Distance: 2500, Intensity: 50}
		}
	}
	data, err := raw.MarshalBinary()
	require.NoError(t, err)
	return data
}

func testScan(t *testing.T, n int) *parse.Scan {
	t.Helper()
	pkts := make([]parse.Packet, n)
	for i := range pkts {
		pkts[i] = parse.Packet{Stamp: testStamp.Add(time.Duration(i) * time.Millisecond), Data: vlp16Packet(t, i*480)}
	}
	return parse.NewScan("velodyne", pkts)
}

func TestNewProcessor_RequiresDecoder(t *testing.T) {
	_, err := NewProcessor(Config{})
	assert.Error(t, err)
}

func TestProcess_FansOutToSinks(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	defer db.Close()

	stats := network.NewPacketStats()
	latest := &monitor.Latest{}
	store := sqlite.NewScanStore(db.DB)
	pcdDir := filepath.Join(t.TempDir(), "pcd")

	p, err := NewProcessor(Config{
		Decoder: newTestDecoder(t),
		Stats:   stats,
		Store:   store,
		Latest:  latest,
		PCDDir:  pcdDir,
	})
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testScan(t, 2))
	require.NoError(t, err)

	assert.Equal(t, 48, res.Cloud.Width)
	assert.Equal(t, 16, res.Cloud.Height)
	assert.Equal(t, 2, res.Stats.Packets)
	assert.Equal(t, 2*384, res.Stats.PointsValid)
	assert.NotEmpty(t, res.ScanID)

	_, scans := stats.Totals()
	assert.Equal(t, int64(1), scans)

	l := latest.Get()
	require.NotNil(t, l)
	assert.Same(t, res.Cloud, l.Cloud)

	rec, err := store.Get(context.Background(), res.ScanID)
	require.NoError(t, err)
	assert.Equal(t, res.Stats, rec.Stats)
	assert.True(t, rec.Stamp.Equal(testStamp))

	data, err := os.ReadFile(filepath.Join(pcdDir, "scan-000001.pcd"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "WIDTH 48"))
	assert.Equal(t, int64(1), p.Processed())
}

func TestProcess_ConcurrentMatchesSequential(t *testing.T) {
	seq, err := NewProcessor(Config{Decoder: newTestDecoder(t)})
	require.NoError(t, err)
	par, err := NewProcessor(Config{Decoder: newTestDecoder(t), Workers: 4})
	require.NoError(t, err)

	scan := testScan(t, 6)
	a, err := seq.Process(context.Background(), scan)
	require.NoError(t, err)
	b, err := par.Process(context.Background(), scan)
	require.NoError(t, err)

	assert.Equal(t, a.Stats, b.Stats)
	assert.Equal(t, a.Cloud.ValidCount(), b.Cloud.ValidCount())
}

func TestProcess_NilScan(t *testing.T) {
	p, err := NewProcessor(Config{Decoder: newTestDecoder(t)})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), nil)
	assert.ErrorIs(t, err, decode.ErrNilScan)
}

func TestRun_DrainsOnClose(t *testing.T) {
	latest := &monitor.Latest{}
	p, err := NewProcessor(Config{Decoder: newTestDecoder(t), Latest: latest, QueueSize: 1})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(ctx, testScan(t, 1)))
	}
	p.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, int64(5), p.Processed())
	assert.Equal(t, int64(5), latest.Count())

	assert.ErrorIs(t, p.Submit(ctx, testScan(t, 1)), ErrClosed)
	assert.False(t, p.TrySubmit(testScan(t, 1)))
	p.Close()
}

func TestTrySubmit_DropsWhenFull(t *testing.T) {
	p, err := NewProcessor(Config{Decoder: newTestDecoder(t), QueueSize: 2})
	require.NoError(t, err)

	assert.True(t, p.TrySubmit(testScan(t, 1)))
	assert.True(t, p.TrySubmit(testScan(t, 1)))
	assert.False(t, p.TrySubmit(testScan(t, 1)))
	assert.Equal(t, int64(1), p.Dropped())
}

func TestRun_StopsOnCancel(t *testing.T) {
	p, err := NewProcessor(Config{Decoder: newTestDecoder(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)

	ctx2, cancel2 := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel2()
	}()
	// Nothing is running Run, so a blocked Submit must give up on cancel.
	for i := 0; i < defaultQueueSize; i++ {
		require.NoError(t, p.Submit(context.Background(), testScan(t, 1)))
	}
	assert.ErrorIs(t, p.Submit(ctx2, testScan(t, 1)), context.Canceled)
}
