package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pebbe/zmq4"
)

const zmqSendTimeout = time.Second

// zmqEventPublisher mirrors engine events on a ZMQ PUB socket as two-frame
// messages: the event type as topic, then the JSON event. Dashboards
// subscribe to the topics they care about.
type zmqEventPublisher struct {
	addr string
	pub  *zmq4.Socket
}

// newZMQEventPublisher binds addr (e.g. tcp://127.0.0.1:28400). It returns
// nil when addr is empty.
func newZMQEventPublisher(addr string) (*zmqEventPublisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	pub, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	_ = pub.SetLinger(0)
	if err := pub.SetSndtimeo(zmqSendTimeout); err != nil && debugLogging {
		logger.Debug("zmq set send timeout failed (ignored)", "error", err)
	}
	if err := pub.Bind(addr); err != nil {
		pub.Close()
		return nil, fmt.Errorf("zmq bind %s: %w", addr, err)
	}
	logger.Info("publishing engine events over ZMQ", "addr", addr)
	return &zmqEventPublisher{addr: addr, pub: pub}, nil
}

func (z *zmqEventPublisher) Publish(ev EngineEvent) error {
	payload, err := fastJSONMarshal(ev)
	if err != nil {
		return err
	}
	_, err = z.pub.SendMessage(string(ev.Type), payload)
	return err
}

// Consume publishes events until ctx is done or the channel closes, then
// closes the socket. A zmq socket must stay on one goroutine, so this is the
// only place that touches it after construction.
func (z *zmqEventPublisher) Consume(ctx context.Context, events <-chan EngineEvent) {
	if z == nil {
		return
	}
	defer z.pub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := z.Publish(ev); err != nil {
				logger.Warn("zmq publish failed", "event", ev.Type, "error", err)
			}
		}
	}
}
