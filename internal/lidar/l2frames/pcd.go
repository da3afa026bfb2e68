package l2frames

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// WritePCD writes the cloud as an organized ASCII PCD v0.7 file with
// x y z intensity ring fields. NaN coordinates are written as "nan" so the
// organized structure survives the round trip.
func WritePCD(w io.Writer, c *OrganizedCloud) error {
	bw := bufio.NewWriter(w)

	header := fmt.Sprintf(`# .PCD v0.7 - Point Cloud Data file format
VERSION 0.7
FIELDS x y z intensity ring
SIZE 4 4 4 1 2
TYPE F F F U I
COUNT 1 1 1 1 1
WIDTH %d
HEIGHT %d
VIEWPOINT 0 0 0 1 0 0 0
POINTS %d
DATA ascii
`, c.Width, c.Height, c.Width*c.Height)
	if _, err := bw.WriteString(header); err != nil {
		return fmt.Errorf("failed to write PCD header: %w", err)
	}

	for i := range c.Points {
		p := &c.Points[i]
		line := formatPCDFloat(p.X) + " " + formatPCDFloat(p.Y) + " " + formatPCDFloat(p.Z) + " " +
			strconv.Itoa(int(p.Intensity)) + " " + strconv.Itoa(int(p.Ring)) + "\n"
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("failed to write PCD point %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush PCD: %w", err)
	}
	return nil
}

func formatPCDFloat(v float32) string {
	if math.IsNaN(float64(v)) {
		return "nan"
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
