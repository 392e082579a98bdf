package source

import (
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
	"github.com/tarm/serial"
)

const (
	defaultSCPIPort = "5555"
	defaultBaud     = 9600
)

// dialFunc opens the byte stream an SCPI session talks over.
type dialFunc func(ctx context.Context, address string, timeout time.Duration) (io.ReadWriteCloser, error)

// dialTransport understands three address forms:
//
//	tcp://host:port        raw socket, port defaults to 5555
//	host[:port]            same as tcp://
//	serial:///dev/ttyUSB0?baud=115200
func dialTransport(ctx context.Context, address string, timeout time.Duration) (io.ReadWriteCloser, error) {
	errFactory := errors.New()

	if !strings.Contains(address, "://") {
		address = "tcp://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, errFactory.Wrap(ErrBadAddress, err)
	}

	switch u.Scheme {
	case "tcp":
		host := u.Host
		if host == "" {
			return nil, errFactory.WithData(ErrBadAddress, address)
		}
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), defaultSCPIPort)
		}

		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, errFactory.Wrap(ErrOpenFailed, err)
		}
		return conn, nil

	case "serial":
		if u.Path == "" {
			return nil, errFactory.WithData(ErrBadAddress, address)
		}

		baud := defaultBaud
		if b := u.Query().Get("baud"); b != "" {
			baud, err = strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return nil, errFactory.WithData(ErrBadAddress, "invalid baud rate "+b)
			}
		}

		port, err := serial.OpenPort(&serial.Config{
			Name:        u.Path,
			Baud:        baud,
			ReadTimeout: timeout,
		})
		if err != nil {
			return nil, errFactory.Wrap(ErrOpenFailed, err)
		}
		return port, nil

	default:
		return nil, errFactory.WithData(ErrBadAddress, "unsupported scheme "+u.Scheme)
	}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// applyDeadline bounds the next exchange on conn by ctx when the transport
// supports deadlines. Serial ports rely on their configured read timeout.
func applyDeadline(ctx context.Context, conn io.ReadWriteCloser, fallback time.Duration) {
	d, ok := conn.(deadliner)
	if !ok {
		return
	}

	deadline, ok := ctx.Deadline()
	if !ok && fallback > 0 {
		deadline = time.Now().Add(fallback)
	}
	_ = d.SetDeadline(deadline)
}
