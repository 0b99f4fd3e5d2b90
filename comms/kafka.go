package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures a KafkaBus.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string // prefix; each instance reads with its own group
	Origin  string // this instance's id
}

const (
	outboxSize   = 1024
	writeTimeout = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaBus shares room broadcasts between daemon instances through one Kafka
// topic keyed by project id. Local subscribers are served directly; messages
// read back from the topic are delivered only when another instance sent them.
// Topic writes are queued and sent by Run, so Publish never waits on a broker.
type KafkaBus struct {
	local  *InMemoryBus
	writer messageWriter
	reader messageReader
	outbox chan kafka.Message
	origin string
	logger *slog.Logger
}

// NewKafkaBus creates a bus for cfg. Call Run to start consuming.
func NewKafkaBus(cfg KafkaConfig, logger *slog.Logger) *KafkaBus {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
	}
	// A per-instance group means every instance sees every message. Starting
	// at the tail skips history; missed state is recovered through delta sync.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID + "-" + cfg.Origin,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafkaBus(writer, reader, cfg.Origin, logger)
}

func newKafkaBus(w messageWriter, r messageReader, origin string, logger *slog.Logger) *KafkaBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaBus{
		local:  NewInMemoryBus(),
		writer: w,
		reader: r,
		outbox: make(chan kafka.Message, outboxSize),
		origin: origin,
		logger: logger,
	}
}

// Publish delivers msg locally and queues it for the topic. When the queue is
// full the message is dropped for other instances; their clients catch up
// through delta sync.
func (b *KafkaBus) Publish(ctx context.Context, msg *Message) error {
	if msg.Origin == "" {
		msg.Origin = b.origin
	}
	localErr := b.local.Publish(ctx, msg)

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	select {
	case b.outbox <- kafka.Message{Key: []byte(msg.ProjectID), Value: value}:
	default:
		b.logger.Warn("kafka bus: outbox full, dropping message",
			slog.String("project_id", msg.ProjectID),
			slog.String("type", msg.Type),
		)
	}
	return localErr
}

// Subscribe registers a local handler.
func (b *KafkaBus) Subscribe(projectID string, handler Handler) (unsubscribe func()) {
	return b.local.Subscribe(projectID, handler)
}

// Run writes queued messages and consumes the topic until ctx is done.
func (b *KafkaBus) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.drain(ctx)
	}()
	defer func() { <-done }()

	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("kafka bus: read error", slog.Any("err", err))
			continue
		}
		var msg Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			b.logger.Warn("kafka bus: undecodable message",
				slog.Int64("offset", m.Offset),
				slog.Any("err", err),
			)
			continue
		}
		if msg.Origin == b.origin {
			continue
		}
		if err := b.local.Publish(ctx, &msg); err != nil {
			b.logger.Warn("kafka bus: deliver",
				slog.String("project_id", msg.ProjectID),
				slog.Any("err", err),
			)
		}
	}
}

func (b *KafkaBus) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.outbox:
			b.write(ctx, m)
		}
	}
}

func (b *KafkaBus) write(ctx context.Context, m kafka.Message) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := b.writer.WriteMessages(ctx, m); err != nil {
		b.logger.Warn("kafka bus: write",
			slog.String("project_id", string(m.Key)),
			slog.Any("err", err),
		)
	}
}

// Close stops the reader and flushes the writer.
func (b *KafkaBus) Close() error {
	rerr := b.reader.Close()
	werr := b.writer.Close()
	b.local.Close()
	if rerr != nil {
		return fmt.Errorf("close kafka reader: %w", rerr)
	}
	if werr != nil {
		return fmt.Errorf("close kafka writer: %w", werr)
	}
	return nil
}
