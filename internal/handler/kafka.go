package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"ecg-monitor/internal/config"
	"ecg-monitor/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// RunConsumer polls topic until ctx is done and passes every message value
// to handlerFunc.
func RunConsumer(ctx context.Context, cfg *config.Config, topic string, handlerFunc func([]byte), logger *zap.Logger) error {
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBrokers,
		"group.id":          cfg.ConsumerGroup,
		"auto.offset.reset": "earliest",
	}

	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		return fmt.Errorf("create consumer for topic %s: %w", topic, err)
	}
	defer consumer.Close()

	if err := consumer.Subscribe(topic, nil); err != nil {
		return fmt.Errorf("subscribe to topic %s: %w", topic, err)
	}

	logger.Info("Consumer started", zap.String("topic", topic), zap.String("group", cfg.ConsumerGroup))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", zap.String("topic", topic))
			return nil
		default:
			ev := consumer.Poll(100)
			if ev == nil {
				continue
			}
			switch e := ev.(type) {
			case *kafka.Message:
				handlerFunc(e.Value)
			case kafka.Error:
				logger.Error("Kafka error", zap.String("topic", topic), zap.Error(e))
				if e.IsFatal() {
					return e
				}
			}
		}
	}
}

// KafkaPublisher writes analysis envelopes to the results topic, keyed by
// patient so one patient's results stay ordered.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	log      *zap.Logger
	done     chan struct{}
}

func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	p := &KafkaPublisher{producer: producer, topic: topic, log: logger, done: make(chan struct{})}
	go p.drainEvents()
	return p, nil
}

func (p *KafkaPublisher) drainEvents() {
	defer close(p.done)
	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				p.log.Error("Result delivery failed", zap.String("key", string(e.Key)), zap.Error(e.TopicPartition.Error))
			}
		case kafka.Error:
			p.log.Error("Kafka producer error", zap.Error(e))
		}
	}
}

func (p *KafkaPublisher) PublishResult(env models.AnalysisEnvelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(env.PatientID),
		Value:          value,
		Headers:        []kafka.Header{{Key: "requestId", Value: []byte(env.RequestID)}},
	}, nil)
}

// Close waits up to timeoutMs for queued results, then shuts the producer
// down.
func (p *KafkaPublisher) Close(timeoutMs int) {
	if remaining := p.producer.Flush(timeoutMs); remaining > 0 {
		p.log.Warn("Unflushed results dropped", zap.Int("count", remaining))
	}
	p.producer.Close()
	<-p.done
}
