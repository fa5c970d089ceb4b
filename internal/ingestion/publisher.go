package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"PerpVault/internal/event"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream        = "VAULT_EVENTS"
	EventSubjectPrefix = "vault.events."
)

// OutboundPublisher publishes committed envelopes to NATS for downstream
// consumers. Subjects follow vault.events.<operation>.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *event.Envelope
	log       zerolog.Logger
}

// OutboundMessage is the JSON body of a published envelope.
type OutboundMessage struct {
	Sequence  int64           `json:"sequence"`
	EventID   uuid.UUID       `json:"event_id"`
	Operation string          `json:"operation"`
	Caller    string          `json:"caller"`
	Events    json.RawMessage `json:"events"`
	StateHash string          `json:"state_hash"`
	PrevHash  string          `json:"prev_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan *event.Envelope, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       logger,
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				// Non-fatal: the event log in Postgres remains authoritative.
				op.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	_, err = op.js.Publish(ctx, Subject(env), data, jetstream.WithMsgID(env.EventID.String()))
	return err
}

// Subject is the outbound subject for an envelope.
func Subject(env *event.Envelope) string {
	return EventSubjectPrefix + env.Operation
}

func EncodeEnvelope(env *event.Envelope) ([]byte, error) {
	payload, err := env.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode seq=%d events: %w", env.Sequence, err)
	}
	msg := OutboundMessage{
		Sequence:  env.Sequence,
		EventID:   env.EventID,
		Operation: env.Operation,
		Caller:    env.Caller.String(),
		Events:    payload,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		PrevHash:  hex.EncodeToString(env.PrevHash[:]),
		Timestamp: env.Timestamp.UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope seq=%d: %w", env.Sequence, err)
	}
	return data, nil
}
