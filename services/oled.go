package services

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"airwatch/models"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// OLED bridge line protocol. Each command is terminated by oledTerminator.
const (
	oledCmdHello    = "HELLO"
	oledCmdContrast = "CON"
	oledCmdClear    = "CLS"
	oledCmdText     = "TXT"
	oledCmdShow     = "SHOW"
	oledTerminator  = "\n"

	oledTextSmall = 1
	oledTextLarge = 2

	defaultDisplayBaud = 115200

	// displayReopenDelay spaces reopen attempts after the bridge drops.
	displayReopenDelay = time.Second
)

var ErrDisplayNotReady = errors.New("display not initialized")

// OLEDDisplay drives a small OLED panel through a microcontroller bridge on a
// serial port.
type OLEDDisplay struct {
	path     string
	baud     int
	contrast int
	logger   *zap.Logger
	open     func() (io.WriteCloser, error)
	now      func() time.Time

	reopenDelay time.Duration

	mu       sync.Mutex
	port     io.WriteCloser
	started  bool
	lastOpen time.Time
}

func NewOLEDDisplay(path string, baud, contrast int, logger *zap.Logger) *OLEDDisplay {
	if baud <= 0 {
		baud = defaultDisplayBaud
	}
	d := &OLEDDisplay{
		path:     path,
		baud:     baud,
		contrast: contrast,
		logger:   logger,
		now:      time.Now,

		reopenDelay: displayReopenDelay,
	}
	d.open = d.openSerial
	return d
}

func (d *OLEDDisplay) openSerial() (io.WriteCloser, error) {
	return serial.Open(d.path, &serial.Mode{
		BaudRate: d.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Init opens the bridge if needed, performs the handshake and clears the
// panel. It can be called again after a failure.
func (d *OLEDDisplay) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.connect(); err != nil {
		return err
	}
	d.started = true

	d.logger.Info("Display initialized", zap.String("port", d.path), zap.Int("contrast", d.contrast))
	return nil
}

func (d *OLEDDisplay) connect() error {
	d.lastOpen = d.now()
	if d.port == nil {
		port, err := d.open()
		if err != nil {
			return fmt.Errorf("failed to open display port %s: %w", d.path, err)
		}
		d.port = port
	}

	if err := d.write(
		oledCmdHello,
		fmt.Sprintf("%s,%d", oledCmdContrast, d.contrast),
		oledCmdClear,
		oledCmdShow,
	); err != nil {
		return fmt.Errorf("display handshake failed: %w", err)
	}
	return nil
}

func (d *OLEDDisplay) ShowStatus(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(oledCmdClear, textCommand(0, oledTextSmall, text), oledCmdShow)
}

func (d *OLEDDisplay) ShowError(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(
		oledCmdClear,
		textCommand(0, oledTextSmall, "ERROR:"),
		textCommand(1, oledTextSmall, text),
		oledCmdShow,
	)
}

func (d *OLEDDisplay) ShowReadings(screen models.Screen) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(
		oledCmdClear,
		textCommand(0, oledTextLarge, screen.Value),
		textCommand(1, oledTextSmall, screen.Index),
		textCommand(2, oledTextSmall, screen.Advisory),
		textCommand(3, oledTextSmall, screen.Link),
		oledCmdShow,
	)
}

// send writes commands as one batch. Once Init has succeeded, a dropped port
// is reopened here, handshake included, at most once per reopenDelay.
func (d *OLEDDisplay) send(commands ...string) error {
	if d.port == nil {
		if !d.started || d.now().Sub(d.lastOpen) < d.reopenDelay {
			return ErrDisplayNotReady
		}
		if err := d.connect(); err != nil {
			return fmt.Errorf("%w: %w", ErrDisplayNotReady, err)
		}
		d.logger.Info("Display reconnected", zap.String("port", d.path))
	}
	return d.write(commands...)
}

// write drops the port on error.
func (d *OLEDDisplay) write(commands ...string) error {
	if d.port == nil {
		return ErrDisplayNotReady
	}

	var b strings.Builder
	for _, c := range commands {
		b.WriteString(c)
		b.WriteString(oledTerminator)
	}
	if _, err := io.WriteString(d.port, b.String()); err != nil {
		if isPortGone(err) {
			d.logger.Warn("Display disconnected", zap.String("port", d.path), zap.Error(err))
		}
		_ = d.port.Close()
		d.port = nil
		return fmt.Errorf("failed to write to display: %w", err)
	}
	return nil
}

func (d *OLEDDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

func textCommand(row, size int, text string) string {
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	return fmt.Sprintf("%s,%d,%d,%s", oledCmdText, row, size, text)
}
