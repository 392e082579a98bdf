package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
)

const (
	// Readings at or above this magnitude are the SCPI overload marker (9.9E37).
	overloadThreshold = 9.0e37
	maxErrorQueue     = 32
	// Lines discarded while looking for the resync marker before giving up.
	maxResyncLines = 16
)

// scpiDriver talks to bench meters that speak SCPI over a socket or serial
// line, configuring them for fast triggered single reads.
type scpiDriver struct {
	cfg  Config
	dial dialFunc
}

func (*scpiDriver) Kind() string { return KindSCPI }

func (d *scpiDriver) Open(ctx context.Context, address string) (Source, error) {
	errFactory := errors.New()

	conn, err := d.dial(ctx, address, d.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	s := &scpiSource{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		address: address,
		cfg:     d.cfg,
	}

	if err := s.setup(ctx); err != nil {
		_ = conn.Close()
		return nil, errFactory.Wrap(ErrOpenFailed, err).WithData(address)
	}

	logger.Info().
		Str("address", address).
		Str("vendor", s.identity.Vendor).
		Str("model", s.identity.Model).
		Str("serial", s.identity.Serial).
		Str("firmware", s.identity.Firmware).
		Str("function", d.cfg.Function).
		Msg("Instrument connected")

	return s, nil
}

type scpiSource struct {
	cfg      Config
	address  string
	identity Identity
	idn      string

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	closed bool

	// stale is set when a query failed mid-exchange; the instrument's late
	// reply may still be on its way.
	stale bool
}

func (s *scpiSource) setup(ctx context.Context) error {
	if err := s.write(ctx, "*CLS"); err != nil {
		return err
	}

	idn, err := s.query(ctx, "*IDN?")
	if err != nil {
		return err
	}
	s.idn = idn
	s.identity = parseIdentity(idn)
	s.identity.Unit = unitFor(s.cfg.Function)

	rng := "AUTO"
	if s.cfg.Range > 0 {
		rng = formatNumber(s.cfg.Range)
	}
	res := "DEF"
	if s.cfg.Resolution > 0 {
		res = formatNumber(s.cfg.Resolution)
	}

	cmds := []string{
		fmt.Sprintf("CONF:%s %s,%s", s.cfg.Function, rng, res),
		"TRIG:SOUR IMM",
		"TRIG:DEL 0",
	}
	if s.cfg.NPLC > 0 {
		cmds = append(cmds, fmt.Sprintf("%s:NPLC %s", s.cfg.Function, formatNumber(s.cfg.NPLC)))
	}
	cmds = append(cmds, "ZERO:AUTO "+onOff(s.cfg.AutoZero), "DISP "+onOff(s.cfg.Display))

	for _, cmd := range cmds {
		if err := s.write(ctx, cmd); err != nil {
			return err
		}
	}

	return nil
}

func (s *scpiSource) Sample(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errFactory.New(ErrClosed)
	}

	if s.stale {
		if err := s.resync(ctx); err != nil {
			return 0, errFactory.Wrap(ErrReadFailed, err).WithMessage("instrument out of sync")
		}
	}

	line, err := s.query(ctx, "READ?")
	if err != nil {
		s.stale = true
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	// Some meters answer with several comma-separated readings; the first is ours.
	first, _, _ := strings.Cut(line, ",")
	v, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrBadReading, err).WithData(line)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errFactory.WithData(ErrBadReading, line)
	}
	if math.Abs(v) >= overloadThreshold {
		return 0, errFactory.WithData(ErrOverload, line)
	}

	return v, nil
}

func (s *scpiSource) Identity() Identity { return s.identity }

// Close drains the instrument error queue, restores the front panel and
// releases the transport.
func (s *scpiSource) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errFactory.New(ErrClosed)
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if s.stale {
		_ = s.resync(ctx)
	}

	var queued []string
	for range maxErrorQueue {
		line, err := s.query(ctx, "SYST:ERR?")
		if err != nil || isNoError(line) {
			break
		}
		queued = append(queued, line)
	}
	for _, e := range queued {
		logger.Warn().Str("address", s.address).Str("error", e).Msg("Instrument reported error")
	}

	_ = s.write(ctx, "DISP ON")

	if err := s.conn.Close(); err != nil {
		return errFactory.Wrap(ErrCloseFailed, err)
	}
	if len(queued) > 0 {
		return errFactory.WithData(ErrInstrumentError, strings.Join(queued, "; "))
	}
	return nil
}

func (s *scpiSource) write(ctx context.Context, cmd string) error {
	applyDeadline(ctx, s.conn, s.cfg.Timeout)
	_, err := io.WriteString(s.conn, cmd+"\n")
	return err
}

func (s *scpiSource) query(ctx context.Context, cmd string) (string, error) {
	if err := s.write(ctx, cmd); err != nil {
		return "", err
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// resync discards replies left over from a failed query. It clears the
// status registers and asks for the identity again; everything read before
// the identity line belongs to an earlier command.
func (s *scpiSource) resync(ctx context.Context) error {
	if err := s.write(ctx, "*CLS"); err != nil {
		return err
	}
	if err := s.write(ctx, "*IDN?"); err != nil {
		return err
	}

	for range maxResyncLines {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == s.idn {
			s.stale = false
			return nil
		}
		logger.Debug().Str("address", s.address).Str("reply", strings.TrimSpace(line)).Msg("Discarded late reply")
	}

	return fmt.Errorf("no identity reply within %d lines", maxResyncLines)
}

// parseIdentity splits an *IDN? response: vendor,model,serial,firmware.
func parseIdentity(idn string) Identity {
	parts := strings.SplitN(idn, ",", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return Identity{
		Vendor:   strings.TrimSpace(parts[0]),
		Model:    strings.TrimSpace(parts[1]),
		Serial:   strings.TrimSpace(parts[2]),
		Firmware: strings.TrimSpace(parts[3]),
	}
}

func isNoError(line string) bool {
	code, _, _ := strings.Cut(line, ",")
	n, err := strconv.Atoi(strings.TrimSpace(code))
	return err == nil && n == 0
}

func unitFor(function string) string {
	fn := strings.ToUpper(function)
	switch {
	case strings.HasPrefix(fn, "VOLT"):
		return "V"
	case strings.HasPrefix(fn, "CURR"):
		return "A"
	case strings.HasPrefix(fn, "RES"), strings.HasPrefix(fn, "FRES"):
		return "Ω"
	case strings.HasPrefix(fn, "FREQ"):
		return "Hz"
	case strings.HasPrefix(fn, "TEMP"):
		return "°C"
	default:
		return ""
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
