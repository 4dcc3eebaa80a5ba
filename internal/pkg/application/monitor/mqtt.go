package monitor

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/metrics"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	mqttConnectTimeout time.Duration = 10 * time.Second
	mqttBufferedLines  int           = 256
)

type mqttAddress struct {
	broker   string
	topic    string
	username string
	password string
}

// parseMQTTAddress splits mqtt://[user:pass@]host[:port]/topic into a broker url and a topic.
func parseMQTTAddress(address string) (mqttAddress, error) {
	u, err := url.Parse(address)
	if err != nil {
		return mqttAddress{}, fmt.Errorf("invalid mqtt address %q: %w", address, err)
	}

	topic := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || topic == "" {
		return mqttAddress{}, fmt.Errorf("mqtt address %q must name a broker and a topic", address)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":1883"
	}

	a := mqttAddress{
		broker: "tcp://" + host,
		topic:  topic,
	}

	if u.User != nil {
		a.username = u.User.Username()
		a.password, _ = u.User.Password()
	}

	return a, nil
}

// mqttLink turns the messages published on one topic into lines. A payload may carry
// several lines.
type mqttLink struct {
	topic       string
	lines       chan []byte
	lost        chan error
	closed      chan struct{}
	readTimeout time.Duration
	disconnect  func()
	log         zerolog.Logger

	closeOnce sync.Once
}

func newMQTTLink(topic string, readTimeout time.Duration, disconnect func()) *mqttLink {
	return &mqttLink{
		topic:       topic,
		lines:       make(chan []byte, mqttBufferedLines),
		lost:        make(chan error, 1),
		closed:      make(chan struct{}),
		readTimeout: readTimeout,
		disconnect:  disconnect,
	}
}

func openMQTT(ctx context.Context, address string, readTimeout time.Duration) (Link, error) {
	a, err := parseMQTTAddress(address)
	if err != nil {
		return nil, err
	}

	var link *mqttLink

	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.broker)
	opts.SetClientID("fire-monitor-" + uuid.NewString()[:8])
	opts.SetUsername(a.username)
	opts.SetPassword(a.password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		link.connectionLost(err)
	})

	client := mqtt.NewClient(opts)
	link = newMQTTLink(a.topic, readTimeout, func() { client.Disconnect(250) })
	link.log = logging.GetLoggerFromContext(ctx)

	token := client.Connect()
	if !waitToken(ctx, token) {
		client.Disconnect(0)
		return nil, fmt.Errorf("timed out connecting to %s", a.broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", a.broker, token.Error())
	}

	token = client.Subscribe(a.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		link.deliver(msg.Payload())
	})
	if !waitToken(ctx, token) || token.Error() != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("could not subscribe to %s on %s: %v", a.topic, a.broker, token.Error())
	}

	return link, nil
}

func waitToken(ctx context.Context, token mqtt.Token) bool {
	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	case <-time.After(mqttConnectTimeout):
		return false
	}
}

// deliver blocks while the buffer is full, which holds back the ordered delivery of the
// mqtt client until the reader catches up. Only lines arriving after Close are dropped.
func (l *mqttLink) deliver(payload []byte) {
	lines := bytes.Split(payload, []byte{'\n'})

	for i, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		out := make([]byte, len(line))
		copy(out, line)

		select {
		case l.lines <- out:
		case <-l.closed:
			dropped := 0
			for _, rest := range lines[i:] {
				if len(bytes.TrimSpace(rest)) > 0 {
					dropped++
				}
			}
			metrics.LinesDropped.WithLabelValues(l.topic).Add(float64(dropped))
			l.log.Warn().Str("topic", l.topic).Int("lines", dropped).Msg("link closed, dropping received lines")
			return
		}
	}
}

func (l *mqttLink) connectionLost(err error) {
	select {
	case l.lost <- err:
	default:
	}
}

func (l *mqttLink) ReadLine(ctx context.Context) ([]byte, error) {
	select {
	case line := <-l.lines:
		return line, nil
	default:
	}

	select {
	case line := <-l.lines:
		return line, nil
	case err := <-l.lost:
		return nil, fmt.Errorf("%w: connection to broker lost: %v", ErrTransport, err)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrTransport, ctx.Err().Error())
	case <-time.After(l.readTimeout):
		return nil, nil
	}
}

func (l *mqttLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.disconnect != nil {
			l.disconnect()
		}
	})
	return nil
}
