package kafka

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"signalbridge/pkg/logger"
)

// ProducerService 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, key string, msg any) error
	Close()
}

type kafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer 结果事件写入单个 topic，同一 key 进入同一 partition
func NewKafkaProducer(brokerURL, topic string) ProducerService {
	return &kafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerURL),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Produce JSON 序列化后写入
func (p *kafkaProducer) Produce(ctx context.Context, key string, msg any) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *kafkaProducer) Close() {
	if err := p.writer.Close(); err != nil {
		logger.Warn("close kafka writer failed", logger.Pair("err", err))
	}
}
