// Package broker wraps the Kafka client behind the narrow producer surface
// the pipeline and the outbox poller share.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes records to a topic. Implementations must be safe for
// concurrent use.
type Producer interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// KafkaProducer lazily manages one writer per topic. Writers require every
// in-sync replica to ack and do not retry internally; retry policy belongs
// to the caller.
type KafkaProducer struct {
	brokers      []string
	writeTimeout time.Duration
	mu           sync.Mutex
	writers      map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer for the given bootstrap brokers.
func NewKafkaProducer(brokers []string, writeTimeout time.Duration) *KafkaProducer {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &KafkaProducer{
		brokers:      brokers,
		writeTimeout: writeTimeout,
		writers:      make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to the given topic, creating a writer if
// necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer := p.writerForTopic(topic)
	return writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  1,
		WriteTimeout: p.writeTimeout,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
