package actuator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/servobridge/pkg/log"
)

var (
	// ErrNotReady is returned when the port is not open. No I/O happened.
	ErrNotReady = errors.New("actuator link not ready")

	// ErrIO wraps read and write failures on the port.
	ErrIO = errors.New("actuator link i/o error")

	// ErrUnknownCommand is returned for bytes that are not a Command.
	ErrUnknownCommand = errors.New("unknown actuator command")
)

const (
	// readPoll is the per-read timeout while waiting for an ack.
	readPoll = 50 * time.Millisecond

	// bannerPoll is the per-read timeout while draining the boot banner.
	bannerPoll = 100 * time.Millisecond

	maxBanner = 4096
)

// Config configures a Link.
type Config struct {
	Device string
	Port   PortOptions

	// SettleDelay is waited after opening while the board reboots on DTR.
	SettleDelay time.Duration

	// Opener defaults to OpenSerial.
	Opener PortOpener

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to log.WithName("actuator").
	Logger log.Logger
}

// Link is a half-duplex command channel to the servo controller. Sends are
// serialized: one completes before the next starts.
type Link struct {
	device string
	clock  clock.Clock
	log    log.Logger

	mu   sync.Mutex
	port Port
}

// Open opens the device, waits for the board to settle and drains any boot
// banner. A failure here leaves no open port behind.
func Open(cfg Config) (*Link, error) {
	if cfg.Opener == nil {
		cfg.Opener = OpenSerial
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("actuator")
	}

	opts, err := cfg.Port.Normalize()
	if err != nil {
		return nil, err
	}

	port, err := cfg.Opener(cfg.Device, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	l := &Link{
		device: cfg.Device,
		clock:  cfg.Clock,
		log:    cfg.Logger.WithValues("device", cfg.Device),
		port:   port,
	}
	l.log.Info("Serial port opened", "baud", opts.BaudRate, "dataBits", opts.DataBits,
		"parity", opts.Parity, "stopBits", opts.StopBits)

	if cfg.SettleDelay > 0 {
		l.log.Debug("Waiting for controller to settle", "delay", cfg.SettleDelay)
		l.clock.Sleep(cfg.SettleDelay)
	}

	if err := l.drainBanner(); err != nil {
		_ = port.Close()
		return nil, err
	}

	return l, nil
}

// NewLink wraps an already open port.
func NewLink(port Port, clk clock.Clock, logger log.Logger) *Link {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.WithName("actuator")
	}
	return &Link{clock: clk, log: logger, port: port}
}

func (l *Link) drainBanner() error {
	if err := l.port.SetReadTimeout(bannerPoll); err != nil {
		return fmt.Errorf("%w: set read timeout: %v", ErrIO, err)
	}

	var banner []byte
	buf := make([]byte, 256)
	for len(banner) < maxBanner {
		n, err := l.port.Read(buf)
		if err != nil {
			return fmt.Errorf("%w: read banner: %v", ErrIO, err)
		}
		if n == 0 {
			break
		}
		banner = append(banner, buf[:n]...)
	}
	if len(banner) > 0 {
		l.log.Info("Controller boot output", "banner", string(banner))
	}

	if err := l.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: reset input: %v", ErrIO, err)
	}
	return nil
}

// Send writes cmd and waits up to ackTimeout for its acknowledgment. A
// missing ack yields a TimedOut result, not an error.
func (l *Link) Send(cmd Command, ackTimeout time.Duration) (Result, error) {
	if !cmd.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, byte(cmd))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return Result{}, ErrNotReady
	}

	start := l.clock.Now()
	res := Result{Command: cmd}

	if err := l.port.ResetInputBuffer(); err != nil {
		return res, fmt.Errorf("%w: reset input: %v", ErrIO, err)
	}
	if err := l.port.SetReadTimeout(readPoll); err != nil {
		return res, fmt.Errorf("%w: set read timeout: %v", ErrIO, err)
	}
	if _, err := l.port.Write([]byte{byte(cmd)}); err != nil {
		return res, fmt.Errorf("%w: write %s: %v", ErrIO, cmd, err)
	}
	l.log.Debug("Command sent", "command", cmd.String())

	buf := make([]byte, 64)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			res.Elapsed = l.clock.Since(start)
			return res, fmt.Errorf("%w: read %s ack: %v", ErrIO, cmd, err)
		}
		res.Response = append(res.Response, buf[:n]...)

		if cmd.acknowledged(res.Response) {
			res.Outcome = Acknowledged
			res.Elapsed = l.clock.Since(start)
			return res, nil
		}
		if elapsed := l.clock.Since(start); elapsed >= ackTimeout {
			res.Outcome = TimedOut
			res.Elapsed = elapsed
			return res, nil
		}
	}
}

// IsReady reports whether the port is open.
func (l *Link) IsReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Close releases the port. Later sends fail with ErrNotReady.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.log.Info("Serial port closed")
	return err
}
