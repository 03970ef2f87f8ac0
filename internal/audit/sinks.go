package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/client"
)

// KafkaSink publishes events to a Kafka topic keyed by session ID.
type KafkaSink struct {
	Producer *client.KafkaProducer
	Topic    string
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Emit(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return s.Producer.ProduceMessage(ctx, s.Topic, []byte(event.SessionID), value, map[string]string{
		"event_type": event.Type,
	})
}

// ClickHouseSink inserts events into the security_events table.
type ClickHouseSink struct {
	Client *client.ClickHouseClient
	Table  string
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the events table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id String,
			event_type String,
			timestamp DateTime64(3),
			session_id String,
			user_id String,
			user_agent String,
			details String
		) ENGINE = MergeTree()
		ORDER BY (timestamp, event_type)`, s.Table)
	return s.Client.Exec(ctx, query)
}

func (s *ClickHouseSink) Emit(ctx context.Context, event Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to serialize event details: %w", err)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, event_type, timestamp, session_id, user_id, user_agent, details) VALUES (?, ?, ?, ?, ?, ?, ?)",
		s.Table)
	return s.Client.Exec(ctx, query,
		event.ID,
		event.Type,
		time.UnixMilli(event.Timestamp),
		event.SessionID,
		event.UserID,
		event.UserAgent,
		string(details),
	)
}

// ElasticsearchSink indexes events for full-text search.
type ElasticsearchSink struct {
	Client *client.ESClient
	Index  string
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Emit(ctx context.Context, event Event) error {
	res, err := s.Client.IndexDocument(s.Index, event.ID, event)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch index failed: %s", res.Status())
	}
	return nil
}
