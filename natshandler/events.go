package natshandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coderunner/model"

	"github.com/nats-io/nats.go"
)

// publisher is satisfied by *nats.Conn.
type publisher interface {
	Publish(subject string, data []byte) error
}

// EventPublisher sends queue lifecycle events to coderunner.events.<type>.
type EventPublisher struct {
	conn publisher
}

func NewEventPublisher(conn publisher) *EventPublisher {
	return &EventPublisher{conn: conn}
}

func (p *EventPublisher) Publish(ev model.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.conn.Publish(SubjectEventsPrefix+ev.Type, data)
}

// Execute sends req to a running server and waits for the result.
func Execute(ctx context.Context, nc *nats.Conn, req model.ExecutionRequest) (model.ExecutionResult, error) {
	var result model.ExecutionResult

	data, err := json.Marshal(req)
	if err != nil {
		return result, fmt.Errorf("encode request: %w", err)
	}
	msg, err := nc.RequestWithContext(ctx, SubjectExecute, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return result, fmt.Errorf("no coderunner server is listening on %s", SubjectExecute)
		}
		return result, fmt.Errorf("request %s: %w", SubjectExecute, err)
	}
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		return result, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
