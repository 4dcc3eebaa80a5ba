package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

func openTCP(ctx context.Context, address string, readTimeout time.Duration) (Link, error) {
	d := net.Dialer{Timeout: 10 * time.Second}

	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", address, err)
	}

	beforeRead := func() error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	}

	isTimeout := func(err error) bool {
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	}

	return newLineLink(conn, beforeRead, isTimeout), nil
}
