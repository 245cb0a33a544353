// Package mq 提供 Kafka 生产者封装，负责把 outbox 中的领域事件投递到主题
package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/feeengine/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxRetries   int
	RetryBackoff int
}

// Message 待发送的消息
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// writer 便于测试替换 kafka.Writer
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer writer
	topic  string
}

// NewProducer 创建 Kafka 生产者
func NewProducer(ctx context.Context, cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}

	logger.Info(ctx, "Kafka producer created successfully", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &KafkaProducer{writer: w, topic: cfg.Topic}, nil
}

// Publish 批量发送消息；按 Key 哈希分区，同一聚合的事件保持顺序
func (kp *KafkaProducer) Publish(ctx context.Context, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		km := kafka.Message{
			Key:   []byte(m.Key),
			Value: m.Value,
			Time:  m.Time,
		}
		for k, v := range m.Headers {
			km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		out = append(out, km)
	}

	if err := kp.writer.WriteMessages(ctx, out...); err != nil {
		logger.Error(ctx, "Failed to send Kafka messages", "topic", kp.topic, "count", len(out), "error", err)
		return fmt.Errorf("kafka write: %w", err)
	}
	logger.Debug(ctx, "Kafka messages sent", "topic", kp.topic, "count", len(out))
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
