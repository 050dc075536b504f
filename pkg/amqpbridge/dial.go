// Package amqpbridge implements the request/response bridge over an AMQP 0-9-1 broker with direct
// exchanges, one per service.
package amqpbridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/morezero/workerbridge/pkg/commsutil"
)

const logPrefix = "amqpbridge:dial"

const (
	dialTimeout = 10 * time.Second
	heartbeat   = 10 * time.Second
)

func dial(url, name string) (*amqp.Connection, error) {
	slog.Debug(fmt.Sprintf("%s - Connecting to AMQP broker as %s", logPrefix, name))

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(name)

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
		Dial:       amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to AMQP broker: %w: %w", logPrefix, commsutil.ErrBrokerUnavailable, err)
	}
	return conn, nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s - failed to declare exchange %s: %w", logPrefix, name, err)
	}
	return nil
}

// Exchanges satisfies service.ExchangeDeclarer. Declaration is idempotent on the broker side.
type Exchanges struct {
	URL string
}

// DeclareExchange declares a durable direct exchange called name.
func (e Exchanges) DeclareExchange(_ context.Context, name string) error {
	conn, err := dial(e.URL, "workerbridge-declare-"+name)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%s - failed to open channel: %w: %w", logPrefix, commsutil.ErrBrokerUnavailable, err)
	}
	defer ch.Close()

	return declareExchange(ch, name)
}
