// Package stream publishes committed audit entries and ledger notifications
// to Kafka topics for downstream consumers (SIEM, reporting, reconciliation
// dashboards). Publishing is best-effort; the audit Store stays authoritative.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"remitgate/internal/audit"
)

// KafkaPublisher produces JSON records to a single topic.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects to brokers and produces to topic.
func NewKafkaPublisher(brokers []string, clientID, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// EnsureTopic creates the topic when missing. An existing topic is not an error.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Publish produces value as a JSON record under key and waits for acks.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kafka payload: %w", err)
	}
	rec := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: payload}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil && p.logger != nil {
		p.logger.Warn("kafka flush on close failed", "topic", p.topic, "error", err)
	}
	p.client.Close()
	return nil
}

// AuditStreamer adapts a KafkaPublisher to audit.Streamer. Entries are keyed by
// sender so one participant's trail stays ordered within a partition.
type AuditStreamer struct {
	pub *KafkaPublisher
}

// NewAuditStreamer wraps pub.
func NewAuditStreamer(pub *KafkaPublisher) *AuditStreamer {
	return &AuditStreamer{pub: pub}
}

func (s *AuditStreamer) Stream(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(entries))
	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: s.pub.topic,
			Key:   []byte(entry.Sender.String()),
			Value: payload,
			Headers: []kgo.RecordHeader{
				{Key: "stage", Value: []byte(entry.Stage)},
			},
		})
	}
	return s.pub.client.ProduceSync(ctx, records...).FirstErr()
}

func (s *AuditStreamer) Close() error {
	return s.pub.Close()
}
