package parse

import "time"

// Packet is one raw data packet with the time it was received.
type Packet struct {
	Stamp time.Time
	Data  []byte
}

// Scan is an ordered group of packets covering (about) one revolution.
// FrameID names the sensor frame the packets were captured in.
type Scan struct {
	Stamp   time.Time
	FrameID string
	Packets []Packet
}

// NewScan returns a scan stamped with its first packet's receipt time.
func NewScan(frameID string, packets []Packet) *Scan {
	s := &Scan{FrameID: frameID, Packets: packets}
	if len(packets) > 0 {
		s.Stamp = packets[0].Stamp
	}
	return s
}
