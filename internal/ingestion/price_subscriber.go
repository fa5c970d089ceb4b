package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PerpVault/internal/observability"
	"PerpVault/internal/oracle"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PriceStream   = "VAULT_PRICES"
	PriceConsumer = "perp-vault-prices"
)

var ErrDecimalsMismatch = errors.New("price update decimals differ from feed")

// PriceSubscriber feeds oracle rounds from the vault.prices.> subject space.
// Feeds are created on the first update for an asset with that update's
// decimals; later updates must carry the same precision.
type PriceSubscriber struct {
	js      jetstream.JetStream
	feeds   *oracle.PriceFeed
	metrics *observability.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, feeds *oracle.PriceFeed, metrics *observability.Metrics, logger zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		feeds:   feeds,
		metrics: metrics,
		log:     logger,
	}
}

// Subscribe attaches a durable consumer with explicit ack, max_deliver=5
// and ack_wait=30s. Malformed payloads are terminated instead of
// redelivered.
func (s *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       PriceConsumer,
		FilterSubject: PriceSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", PriceConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		err := s.Handle(msg.Subject(), msg.Data())
		switch {
		case err == nil:
			_ = msg.Ack()
		case errors.Is(err, ErrMalformedUpdate), errors.Is(err, ErrAssetMismatch), errors.Is(err, ErrInvalidAnswer):
			_ = msg.Term()
		default:
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", PriceConsumer, err)
	}

	s.mu.Lock()
	s.consumer = cc
	s.mu.Unlock()
	s.log.Info().Str("subject", PriceSubjectPrefix+">").Str("consumer", PriceConsumer).Msg("subscribed to price updates")
	return nil
}

// Handle parses one payload and appends it as a new round on the asset's
// feed.
func (s *PriceSubscriber) Handle(subject string, data []byte) error {
	upd, err := ParsePriceUpdate(subject, data)
	if err == nil {
		err = s.apply(upd)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.PriceUpdatesInvalid.WithLabelValues(reason(err)).Inc()
		}
		s.log.Warn().Err(err).Str("subject", subject).Msg("price update rejected")
		return err
	}
	if s.metrics != nil {
		s.metrics.PriceUpdates.WithLabelValues(string(upd.Asset)).Inc()
	}
	return nil
}

func (s *PriceSubscriber) apply(upd PriceUpdate) error {
	s.mu.Lock()
	feed, ok := s.feeds.Feed(upd.Asset)
	if !ok {
		feed = oracle.NewFeed(upd.Decimals)
		s.feeds.SetFeed(upd.Asset, feed)
	}
	s.mu.Unlock()

	if feed.Decimals() != upd.Decimals {
		return fmt.Errorf("%w: %s feed has %d, update has %d", ErrDecimalsMismatch, upd.Asset, feed.Decimals(), upd.Decimals)
	}
	round, err := feed.SetLatestAnswer(upd.Answer)
	if err != nil {
		return fmt.Errorf("set %s answer: %w", upd.Asset, err)
	}
	s.log.Debug().Str("asset", string(upd.Asset)).Uint64("round", round).Str("answer", upd.Answer.String()).Msg("price round")
	return nil
}

func (s *PriceSubscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumer != nil {
		s.consumer.Stop()
		s.consumer = nil
		s.log.Info().Msg("price subscriber stopped")
	}
}

// EnsureStreams creates the price, command and outbound streams if
// missing. All use FileStorage; prices keep only the latest rounds per
// asset and commands are removed once acknowledged.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:              PriceStream,
			Subjects:          []string{PriceSubjectPrefix + ">"},
			Storage:           jetstream.FileStorage,
			Retention:         jetstream.LimitsPolicy,
			MaxMsgsPerSubject: oracle.MaxRoundHistory,
			MaxAge:            24 * time.Hour,
			Replicas:          1,
		},
		{
			Name:       CommandStream,
			Subjects:   []string{CommandSubjectPrefix + ">"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.WorkQueuePolicy,
			MaxAge:     72 * time.Hour,
			Replicas:   1,
			Duplicates: 2 * time.Minute,
		},
		{
			Name:      EventStream,
			Subjects:  []string{EventSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
			// Dedup window for Nats-Msg-Id set to the envelope's event id.
			Duplicates: 10 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perp-vault"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
