package services

import (
	"encoding/binary"
	"errors"
	"time"

	"airwatch/models"
)

// Sensor frame layout:
//
//	Magic(2) | Length(2) | PM1(2) | PM2.5(2) | PM10(2) | ... | Checksum(2)
//
// All 16-bit fields are big-endian. The checksum is the 16-bit sum of every
// byte before it.
const (
	FrameSize       = 32
	FrameMagicHigh  = 0x42
	FrameMagicLow   = 0x4D
	frameBodyLength = FrameSize - 4 // value of the length field
	checksumOffset  = FrameSize - 2

	pm1Offset  = 4
	pm25Offset = 6
	pm10Offset = 8

	DefaultFrameTimeout = time.Second
	framePollInterval   = 2 * time.Millisecond
)

var (
	ErrNoFrame      = errors.New("no frame header in buffered bytes")
	ErrFrameTimeout = errors.New("frame incomplete before timeout")
	ErrChecksum     = errors.New("frame checksum mismatch")
)

// ByteSource is a non-blocking, byte-oriented input such as a UART.
type ByteSource interface {
	Available() int
	ReadByte() (byte, error)
}

// FrameDecoder extracts validated readings from a sensor byte stream.
type FrameDecoder struct {
	source  ByteSource
	timeout time.Duration
	buf     [FrameSize]byte

	now   func() time.Time
	sleep func(time.Duration)
}

func NewFrameDecoder(source ByteSource, timeout time.Duration) *FrameDecoder {
	if timeout <= 0 {
		timeout = DefaultFrameTimeout
	}
	return &FrameDecoder{
		source:  source,
		timeout: timeout,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Read produces at most one Reading. It scans for the frame header, assembles
// the rest of the frame under the decoder timeout and validates the checksum.
// Whatever the outcome, bytes still buffered afterwards are discarded so the
// next call starts on a clean boundary.
func (d *FrameDecoder) Read() (models.Reading, error) {
	defer d.drain()

	var prev byte
	havePrev := false
	for d.source.Available() > 0 {
		b, err := d.source.ReadByte()
		if err != nil {
			return models.Reading{}, ErrNoFrame
		}
		if !havePrev || prev != FrameMagicHigh || b != FrameMagicLow {
			prev, havePrev = b, true
			continue
		}

		d.buf[0] = FrameMagicHigh
		d.buf[1] = FrameMagicLow
		if !d.fill() {
			return models.Reading{}, ErrFrameTimeout
		}
		if !validChecksum(d.buf[:]) {
			return models.Reading{}, ErrChecksum
		}
		return parseFrame(d.buf[:]), nil
	}
	return models.Reading{}, ErrNoFrame
}

// fill reads the 30 bytes after the header, waiting at most d.timeout.
func (d *FrameDecoder) fill() bool {
	deadline := d.now().Add(d.timeout)
	idx := 2
	for idx < FrameSize {
		if d.source.Available() > 0 {
			b, err := d.source.ReadByte()
			if err != nil {
				return false
			}
			d.buf[idx] = b
			idx++
			continue
		}
		if !d.now().Before(deadline) {
			return false
		}
		d.sleep(framePollInterval)
	}
	return true
}

func (d *FrameDecoder) drain() {
	for d.source.Available() > 0 {
		if _, err := d.source.ReadByte(); err != nil {
			return
		}
	}
}

func validChecksum(frame []byte) bool {
	var sum uint16
	for _, b := range frame[:checksumOffset] {
		sum += uint16(b)
	}
	return sum == binary.BigEndian.Uint16(frame[checksumOffset:])
}

func parseFrame(frame []byte) models.Reading {
	return models.Reading{
		PM1:   binary.BigEndian.Uint16(frame[pm1Offset:]),
		PM25:  binary.BigEndian.Uint16(frame[pm25Offset:]),
		PM10:  binary.BigEndian.Uint16(frame[pm10Offset:]),
		Valid: true,
	}
}

// EncodeFrame builds a well-formed sensor frame carrying r. The standard and
// atmospheric concentration fields both carry r's values; particle counts are
// left zero.
func EncodeFrame(r models.Reading) []byte {
	frame := make([]byte, FrameSize)
	frame[0] = FrameMagicHigh
	frame[1] = FrameMagicLow
	binary.BigEndian.PutUint16(frame[2:], frameBodyLength)
	binary.BigEndian.PutUint16(frame[pm1Offset:], r.PM1)
	binary.BigEndian.PutUint16(frame[pm25Offset:], r.PM25)
	binary.BigEndian.PutUint16(frame[pm10Offset:], r.PM10)
	binary.BigEndian.PutUint16(frame[10:], r.PM1)
	binary.BigEndian.PutUint16(frame[12:], r.PM25)
	binary.BigEndian.PutUint16(frame[14:], r.PM10)

	var sum uint16
	for _, b := range frame[:checksumOffset] {
		sum += uint16(b)
	}
	binary.BigEndian.PutUint16(frame[checksumOffset:], sum)
	return frame
}
