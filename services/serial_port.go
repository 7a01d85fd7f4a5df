package services

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	serialReadTimeout = 100 * time.Millisecond
	serialReopenDelay = time.Second
	serialBufferLimit = 4096
	serialReadChunk   = 256
	defaultSensorBaud = 9600
)

var ErrSourceEmpty = errors.New("no buffered bytes")

// SerialSource is a ByteSource fed by a background reader on a UART. The
// buffer is bounded; when it overflows the oldest bytes are dropped.
type SerialSource struct {
	path        string
	mode        *serial.Mode
	logger      *zap.Logger
	open        func() (io.ReadCloser, error)
	reopenDelay time.Duration

	mu       sync.Mutex
	buf      []byte
	received uint64
	dropped  uint64
	port     io.ReadCloser
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

func NewSerialSource(path string, baud int, logger *zap.Logger) *SerialSource {
	if baud <= 0 {
		baud = defaultSensorBaud
	}
	s := &SerialSource{
		path: path,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		logger:      logger,
		reopenDelay: serialReopenDelay,
	}
	s.open = s.openSerial
	return s
}

func (s *SerialSource) openSerial() (io.ReadCloser, error) {
	port, err := serial.Open(s.path, s.mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// Open starts the background reader. Calling Open on a running source is a
// no-op.
func (s *SerialSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	port, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open sensor port %s: %w", s.path, err)
	}
	s.port = port
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.readLoop(port)

	s.logger.Info("Sensor port opened",
		zap.String("port", s.path),
		zap.Int("baud", s.mode.BaudRate))
	return nil
}

func (s *SerialSource) readLoop(port io.ReadCloser) {
	defer close(s.done)

	chunk := make([]byte, serialReadChunk)
	for {
		n, err := port.Read(chunk)
		if n > 0 {
			s.append(chunk[:n])
		}
		if err == nil {
			continue
		}

		select {
		case <-s.stop:
			return
		default:
		}

		if isPortGone(err) {
			s.logger.Warn("Sensor port disconnected", zap.String("port", s.path), zap.Error(err))
		} else {
			s.logger.Error("Sensor port read failed", zap.String("port", s.path), zap.Error(err))
		}
		s.mu.Lock()
		s.port = nil
		s.mu.Unlock()
		_ = port.Close()

		if port = s.reopen(); port == nil {
			return
		}
	}
}

// reopen retries the port until it opens or the source is closed.
func (s *SerialSource) reopen() io.ReadCloser {
	for {
		select {
		case <-s.stop:
			return nil
		case <-time.After(s.reopenDelay):
		}

		port, err := s.open()
		if err != nil {
			s.logger.Debug("Sensor port still unavailable", zap.String("port", s.path), zap.Error(err))
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			_ = port.Close()
			return nil
		}
		s.port = port
		s.mu.Unlock()

		s.logger.Info("Sensor port reopened", zap.String("port", s.path))
		return port
	}
}

func (s *SerialSource) append(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, data...)
	s.received += uint64(len(data))
	if over := len(s.buf) - serialBufferLimit; over > 0 {
		s.buf = append(s.buf[:0], s.buf[over:]...)
		s.dropped += uint64(over)
	}
}

func (s *SerialSource) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *SerialSource) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return 0, ErrSourceEmpty
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

// Stats reports bytes received and bytes dropped on overflow.
func (s *SerialSource) Stats() (received, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.dropped
}

// Close stops the reader and closes the port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	port := s.port
	s.port = nil
	done := s.done
	s.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	<-done
	s.logger.Info("Sensor port closed", zap.String("port", s.path))
	return err
}

// isPortGone reports whether err means the device went away rather than a
// configuration problem.
func isPortGone(err error) bool {
	var portErr serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
