package monitor

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const baudRate int = 9600

func openSerial(port string, readTimeout time.Duration) (Link, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", port, err)
	}

	if err = p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("could not set read timeout on %s: %w", port, err)
	}

	// a serial read that times out returns zero bytes and no error
	return newLineLink(p, nil, nil), nil
}
