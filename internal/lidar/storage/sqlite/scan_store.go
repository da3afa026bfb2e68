package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
)

// ErrScanNotFound is returned by Get for an unknown scan id.
var ErrScanNotFound = errors.New("scan not found")

// ScanRecord is one persisted scan summary.
type ScanRecord struct {
	ScanID    string                `json:"scan_id"`
	FrameID   string                `json:"frame_id"`
	Stamp     time.Time             `json:"stamp"`
	Stats     decode.ScanStats      `json:"stats"`
	Summary   l2frames.CloudSummary `json:"summary"`
	Decode    time.Duration         `json:"decode_duration"`
	CreatedAt time.Time             `json:"created_at"`
}

// ScanStore records and lists scan summaries.
type ScanStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewScanStore creates a ScanStore over db.
func NewScanStore(db *sql.DB) *ScanStore {
	return &ScanStore{db: db, now: time.Now}
}

// Insert persists rec. Empty ScanID and zero CreatedAt are filled in.
func (s *ScanStore) Insert(ctx context.Context, rec *ScanRecord) error {
	if rec.ScanID == "" {
		rec.ScanID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO lidar_scans (
				scan_id, frame_id, stamp,
				packets, packets_aborted, points_valid, points_gated,
				points_out_of_range, transform_failures,
				width, height, valid_points, rings_assigned,
				range_min, range_max, range_mean, range_stddev, intensity_mean,
				decode_micros, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ScanID, rec.FrameID, rec.Stamp.UnixNano(),
			rec.Stats.Packets, rec.Stats.PacketsAborted, rec.Stats.PointsValid, rec.Stats.PointsGated,
			rec.Stats.PointsOutOfRange, rec.Stats.TransformFailures,
			rec.Summary.Width, rec.Summary.Height, rec.Summary.ValidPoints, rec.Summary.RingsAssigned,
			rec.Summary.RangeMin, rec.Summary.RangeMax, rec.Summary.RangeMean,
			rec.Summary.RangeStdDev, rec.Summary.IntensityMean,
			rec.Decode.Microseconds(), rec.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		return nil
	})
}

// Record builds a ScanRecord from a decoded cloud and persists it.
func (s *ScanStore) Record(ctx context.Context, cloud *l2frames.OrganizedCloud, stats decode.ScanStats, took time.Duration) (*ScanRecord, error) {
	rec := &ScanRecord{
		FrameID: cloud.FrameID,
		Stamp:   cloud.Stamp,
		Stats:   stats,
		Summary: l2frames.Summarize(cloud),
		Decode:  took,
	}
	if err := s.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

const scanColumns = `
	scan_id, frame_id, stamp,
	packets, packets_aborted, points_valid, points_gated,
	points_out_of_range, transform_failures,
	width, height, valid_points, rings_assigned,
	range_min, range_max, range_mean, range_stddev, intensity_mean,
	decode_micros, created_at`

// Get returns the scan with the given id.
func (s *ScanStore) Get(ctx context.Context, scanID string) (*ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM lidar_scans WHERE scan_id = ?`, scanID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan %s: %w", scanID, ErrScanNotFound)
	}
	return rec, err
}

// Recent returns up to limit scans, newest stamp first.
func (s *ScanStore) Recent(ctx context.Context, limit int) ([]*ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scanColumns+`
		FROM lidar_scans
		ORDER BY stamp DESC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []*ScanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored scans.
func (s *ScanStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lidar_scans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count scans: %w", err)
	}
	return n, nil
}

// DeleteBefore removes scans stamped before t and returns how many went.
func (s *ScanStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM lidar_scans WHERE stamp < ?`, t.UnixNano())
		if err != nil {
			return fmt.Errorf("delete scans: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (*ScanRecord, error) {
	var (
		rec                     ScanRecord
		stamp, created, micros  int64
		rmin, rmax, rmean, rstd sql.NullFloat64
		imean                   sql.NullFloat64
	)
	err := r.Scan(
		&rec.ScanID, &rec.FrameID, &stamp,
		&rec.Stats.Packets, &rec.Stats.PacketsAborted, &rec.Stats.PointsValid, &rec.Stats.PointsGated,
		&rec.Stats.PointsOutOfRange, &rec.Stats.TransformFailures,
		&rec.Summary.Width, &rec.Summary.Height, &rec.Summary.ValidPoints, &rec.Summary.RingsAssigned,
		&rmin, &rmax, &rmean, &rstd, &imean,
		&micros, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	rec.Stamp = time.Unix(0, stamp).UTC()
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.Decode = time.Duration(micros) * time.Microsecond
	rec.Summary.RangeMin = rmin.Float64
	rec.Summary.RangeMax = rmax.Float64
	rec.Summary.RangeMean = rmean.Float64
	rec.Summary.RangeStdDev = rstd.Float64
	rec.Summary.IntensityMean = imean.Float64
	return &rec, nil
}
