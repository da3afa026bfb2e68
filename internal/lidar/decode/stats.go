package decode

import "fmt"

// ScanStats counts what happened to the packets and points of one scan.
type ScanStats struct {
	Packets        int
	PacketsAborted int

	PointsValid       int
	PointsGated       int // outside the azimuth gate
	PointsOutOfRange  int
	TransformFailures int
}

// Add accumulates o into s.
func (s *ScanStats) Add(o ScanStats) {
	s.Packets += o.Packets
	s.PacketsAborted += o.PacketsAborted
	s.PointsValid += o.PointsValid
	s.PointsGated += o.PointsGated
	s.PointsOutOfRange += o.PointsOutOfRange
	s.TransformFailures += o.TransformFailures
}

func (s ScanStats) String() string {
	return fmt.Sprintf("packets=%d aborted=%d valid=%d gated=%d out_of_range=%d transform_failures=%d",
		s.Packets, s.PacketsAborted, s.PointsValid, s.PointsGated, s.PointsOutOfRange, s.TransformFailures)
}
