package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var ErrTransport = errors.New("transport failure")

const (
	DefaultReadTimeout time.Duration = time.Second
	maxLineLength      int           = 4096
)

// Link is an open connection to one sensor device.
//
// ReadLine returns the next complete line without its line ending. It returns nil and
// a nil error when no complete line arrived before the read timeout. Any error wraps
// ErrTransport and ends the session.
type Link interface {
	ReadLine(ctx context.Context) ([]byte, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context, address string) (Link, error)
}

type OpenerFunc func(ctx context.Context, address string) (Link, error)

func (f OpenerFunc) Open(ctx context.Context, address string) (Link, error) {
	return f(ctx, address)
}

// DeviceOpener opens tcp:// addresses as network connections, mqtt:// addresses as a
// topic subscription and anything else as a serial port.
type DeviceOpener struct {
	ReadTimeout time.Duration
}

func (o DeviceOpener) Open(ctx context.Context, address string) (Link, error) {
	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	if strings.HasPrefix(address, "tcp://") {
		return openTCP(ctx, strings.TrimPrefix(address, "tcp://"), timeout)
	}

	if strings.HasPrefix(address, "mqtt://") {
		return openMQTT(ctx, address, timeout)
	}

	return openSerial(address, timeout)
}

// lineLink splits the byte stream of a device connection into lines. beforeRead is
// called ahead of every read so that network links can arm a deadline.
type lineLink struct {
	conn       io.ReadCloser
	beforeRead func() error
	isTimeout  func(error) bool

	buf   []byte
	chunk []byte

	closeOnce sync.Once
	closeErr  error
}

func newLineLink(conn io.ReadCloser, beforeRead func() error, isTimeout func(error) bool) *lineLink {
	return &lineLink{
		conn:       conn,
		beforeRead: beforeRead,
		isTimeout:  isTimeout,
		chunk:      make([]byte, 512),
	}
}

func (l *lineLink) ReadLine(ctx context.Context) ([]byte, error) {
	if line := l.next(); line != nil {
		return line, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransport, err.Error())
	}

	if l.beforeRead != nil {
		if err := l.beforeRead(); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTransport, err.Error())
		}
	}

	n, err := l.conn.Read(l.chunk)
	if n > 0 {
		l.buf = append(l.buf, l.chunk[:n]...)
	}

	if err != nil && !(l.isTimeout != nil && l.isTimeout(err)) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: connection closed by device", ErrTransport)
		}
		return nil, fmt.Errorf("%w: %s", ErrTransport, err.Error())
	}

	return l.next(), nil
}

// next pops a complete line from the buffer. An overlong partial line is returned as
// is so that it gets rejected downstream instead of growing without bound.
func (l *lineLink) next() []byte {
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			if len(l.buf) > maxLineLength {
				line := l.buf
				l.buf = nil
				return line
			}
			return nil
		}

		line := bytes.TrimRight(l.buf[:i], "\r")
		out := make([]byte, len(line))
		copy(out, line)
		l.buf = l.buf[i+1:]

		if len(bytes.TrimSpace(out)) == 0 {
			continue
		}

		return out
	}
}

func (l *lineLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
