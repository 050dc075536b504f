package natsbridge

import (
	"context"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/workerbridge/pkg/commsutil"
)

// Exchanges satisfies service.ExchangeDeclarer for NATS. Subjects need no declaration, so declaring
// only proves the server is reachable, which keeps startup failing fast on a bad URL.
type Exchanges struct {
	URL string
}

// DeclareExchange connects once and disconnects.
func (e Exchanges) DeclareExchange(_ context.Context, name string) error {
	nc, err := commsutil.Connect(e.URL, "workerbridge-declare-"+name, comms.NoReconnect())
	if err != nil {
		return err
	}
	nc.Close()
	return nil
}
