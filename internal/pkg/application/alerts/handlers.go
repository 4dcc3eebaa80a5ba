package alerts

import (
	"context"
	"encoding/json"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/messaging-golang/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const ReportReceivedTopic string = "fire.reportReceived"

// ReportReceivedHandler creates alerts from reports that chat bots and other front-ends
// publish on the message bus instead of calling the http api.
func ReportReceivedHandler(svc AlertService) messaging.TopicMessageHandler {
	return func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		report := Report{}

		err := json.Unmarshal(msg.Body, &report)
		if err != nil {
			logger.Error().Err(err).Msgf("failed to unmarshal message from %s", msg.RoutingKey)
			return
		}

		ctx = logging.NewContextWithLogger(ctx, logger)

		alert, err := svc.Report(ctx, report)
		if err != nil {
			logger.Error().Err(err).Msg("could not create alert from report")
			return
		}

		logger.Debug().Str("alert_id", alert.AlertID).Msgf("%s handled", msg.RoutingKey)
	}
}
