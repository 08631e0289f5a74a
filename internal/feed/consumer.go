package feed

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/metrics"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

// BarConsumer reads closed bars from the feed topic and hands them to the
// dispatcher. Undecodable messages are counted and skipped; bars with bad
// price data still dispatch, because the engine reports those as stale
// snapshots itself.
type BarConsumer struct {
	reader     *kafka.Reader
	dispatcher *Dispatcher
	topic      string
	logger     zerolog.Logger

	consumed  atomic.Uint64
	malformed atomic.Uint64
}

// NewBarConsumer creates a consumer over the configured topic. Reading in a
// consumer group commits offsets as messages are delivered, so a skipped
// poison message is never redelivered.
func NewBarConsumer(cfg config.KafkaConfig, dispatcher *Dispatcher, logger zerolog.Logger) *BarConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return &BarConsumer{
		reader:     reader,
		dispatcher: dispatcher,
		topic:      cfg.Topic,
		logger:     logger.With().Str("component", "BarConsumer").Logger(),
	}
}

// Run consumes until the context is cancelled. Broker errors are logged and
// retried; they never kill the loop.
func (c *BarConsumer) Run(ctx context.Context) error {
	c.logger.Info().Str("topic", c.topic).Msg("Bar consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("Bar consumer stopped")
				return nil
			}
			c.logger.Warn().Err(err).Msg("Failed to read from feed topic, retrying")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		var bar trend.Bar
		if err := json.Unmarshal(msg.Value, &bar); err != nil {
			c.malformed.Add(1)
			metrics.MalformedMessages.Inc()
			c.logger.Warn().
				Err(err).
				Int64("offset", msg.Offset).
				Msg("Dropped undecodable feed message")
			continue
		}

		if err := c.dispatcher.Dispatch(ctx, bar); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.consumed.Add(1)
		metrics.BarsConsumed.WithLabelValues(bar.Timeframe).Inc()
	}
}

// Close releases the underlying reader.
func (c *BarConsumer) Close() error {
	return c.reader.Close()
}

// FeedStats describes the consumer for health endpoints.
type FeedStats struct {
	Topic     string `json:"topic"`
	Consumed  uint64 `json:"consumed"`
	Malformed uint64 `json:"malformed"`
	Positions int    `json:"positions"`
}

// Stats returns a point-in-time view of the consumer.
func (c *BarConsumer) Stats() FeedStats {
	return FeedStats{
		Topic:     c.topic,
		Consumed:  c.consumed.Load(),
		Malformed: c.malformed.Load(),
		Positions: c.dispatcher.Positions(),
	}
}
