// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"noisegate/internal/telemetry"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Flags             | uint8          | 1            | bit0 open, bit1 enabled |
| Attenuation       | float32        | 4            | 0..1                    |
| Level             | float32        | 4            | Tracked envelope        |
| Held Time         | float32        | 4            | Seconds since close     |
| Input Peak        | float32        | 4            | Last buffer peak        |
| Frames            | uint64         | 8            | Frames processed        |
| Overruns          | uint64         | 8            | Samples dropped         |
| Underruns         | uint64         | 8            | Samples zero-filled     |
+-----------------------------------------------------------------------------+
*/

// PacketSize is the encoded size of one snapshot packet.
const PacketSize = 4 + 8 + 1 + 4*4 + 3*8

const (
	flagOpen uint8 = 1 << iota
	flagEnabled
)

// wirePacket mirrors the layout above; binary.Write encodes it without padding.
type wirePacket struct {
	Sequence    uint32
	Timestamp   int64
	Flags       uint8
	Attenuation float32
	Level       float32
	HeldTime    float32
	InputPeak   float32
	Frames      uint64
	Overruns    uint64
	Underruns   uint64
}

// EncodePacket writes one snapshot packet to w.
func EncodePacket(w io.Writer, seq uint32, s telemetry.Snapshot) error {
	var flags uint8
	if s.Open {
		flags |= flagOpen
	}
	if s.GateEnabled {
		flags |= flagEnabled
	}

	var ts int64
	if !s.Timestamp.IsZero() {
		ts = s.Timestamp.UnixNano()
	}

	return binary.Write(w, binary.BigEndian, wirePacket{
		Sequence:    seq,
		Timestamp:   ts,
		Flags:       flags,
		Attenuation: s.Attenuation,
		Level:       s.Level,
		HeldTime:    s.HeldTime,
		InputPeak:   s.InputPeak,
		Frames:      s.Frames,
		Overruns:    s.Overruns,
		Underruns:   s.Underruns,
	})
}

// DecodePacket parses a packet produced by EncodePacket.
func DecodePacket(b []byte) (uint32, telemetry.Snapshot, error) {
	if len(b) != PacketSize {
		return 0, telemetry.Snapshot{}, fmt.Errorf("udp packet: got %d bytes, want %d", len(b), PacketSize)
	}

	var p wirePacket
	if err := binary.Read(bytes.NewReader(b), binary.BigEndian, &p); err != nil {
		return 0, telemetry.Snapshot{}, fmt.Errorf("udp packet: %w", err)
	}

	s := telemetry.Snapshot{
		GateEnabled: p.Flags&flagEnabled != 0,
		Open:        p.Flags&flagOpen != 0,
		Attenuation: p.Attenuation,
		Level:       p.Level,
		HeldTime:    p.HeldTime,
		InputPeak:   p.InputPeak,
		Frames:      p.Frames,
		Overruns:    p.Overruns,
		Underruns:   p.Underruns,
	}
	if p.Timestamp != 0 {
		s.Timestamp = time.Unix(0, p.Timestamp)
	}
	return p.Sequence, s, nil
}
