package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// KafkaSinkConfig captures the runtime tunables for consuming the public
// view-event stream. Grounded on LedgerConsumerConfig.
type KafkaSinkConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// KafkaSink streams view events from Kafka and hands each decoded event to
// a Pipeline. Grounded on ledger_consumer.go's LedgerConsumer.Run fetch /
// decode / commit loop, with the decode step reduced to this system's
// event envelope and kafka-go's reader used directly (no local circuit
// breaker wrapper: resilience is applied downstream, around the storage
// call the Pipeline makes, via sony/gobreaker/v2).
type KafkaSink struct {
	cfg      KafkaSinkConfig
	reader   *kafka.Reader
	pipeline *Pipeline
	log      *slog.Logger
	poll     time.Duration
}

// NewKafkaSink constructs a KafkaSink reading cfg.Topic and submitting
// decoded events to pipeline.
func NewKafkaSink(cfg KafkaSinkConfig, pipeline *Pipeline, log *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ingest: at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("ingest: topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("ingest: consumer group must not be empty")
	}
	if pipeline == nil {
		return nil, errors.New("ingest: pipeline is required")
	}
	if log == nil {
		log = slog.Default()
	}

	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	return &KafkaSink{
		cfg:      cfg,
		reader:   reader,
		pipeline: pipeline,
		log:      log.With(slog.String("component", "kafka_sink")),
		poll:     poll,
	}, nil
}

// Close shuts down the underlying Kafka reader.
func (s *KafkaSink) Close() error {
	if s == nil || s.reader == nil {
		return nil
	}
	return s.reader.Close()
}

// Run blocks consuming and submitting messages until ctx is cancelled or
// the reader is closed.
func (s *KafkaSink) Run(ctx context.Context) error {
	s.log.Info("kafka_sink_started",
		slog.String("topic", s.cfg.Topic),
		slog.String("group", s.cfg.GroupID),
		slog.String("brokers", strings.Join(s.cfg.Brokers, ",")),
	)
	defer s.log.Info("kafka_sink_stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.poll)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			s.log.Error("kafka_sink_fetch_error", slog.Any("err", err))
			continue
		}

		raw, decodeErr := decodeRawEvent(msg.Value)
		if decodeErr != nil {
			s.log.Warn("kafka_sink_decode_error", slog.Any("err", decodeErr), slog.Int64("offset", msg.Offset))
		} else if err := s.pipeline.Submit(ctx, raw); err != nil {
			s.log.Debug("kafka_sink_submit_rejected", slog.Any("err", err), slog.Int64("offset", msg.Offset))
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, s.poll)
		if err := s.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				s.log.Error("kafka_sink_commit_error", slog.Any("err", err))
			}
		}
		commitCancel()
	}
}

func decodeRawEvent(payload []byte) (RawEvent, error) {
	var raw RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return RawEvent{}, fmt.Errorf("decode view event: %w", err)
	}
	return raw, nil
}
