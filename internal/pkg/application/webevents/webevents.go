package webevents

import (
	"context"
	"encoding/json"
	"net/http"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/diwise/messaging-golang/pkg/messaging"
)

// WebEvents pushes topic messages to browsers as server sent events, using the topic
// name as the event name.
type WebEvents interface {
	Handler() http.Handler
	Shutdown()
	Publish(event string, data any) error
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type webEvents struct {
	s *gosse.Server
}

func New() WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{
			Headers: map[string]string{
				"Access-Control-Allow-Origin": "*",
			},
		}),
	}
}

func (we *webEvents) Handler() http.Handler {
	return we.s
}

func (we *webEvents) Shutdown() {
	we.s.Shutdown()
}

func (we *webEvents) Publish(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	we.s.SendMessage("", gosse.NewMessage("", string(b), event))

	return nil
}

func (we *webEvents) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	return we.Publish(message.TopicName(), message)
}
