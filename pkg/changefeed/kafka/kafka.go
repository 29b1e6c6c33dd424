// Package kafka publishes change events to Kafka topics named
// <topicPrefix>.<namespace>.<entity>. The message key is the row id, so all
// changes of one row land on the same partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"github.com/edgeflare/radmin/pkg/changefeed"
	"go.uber.org/zap"
)

// Connector is a synchronous Kafka producer.
type Connector struct {
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	config   Config
	logger   *zap.Logger

	mu     sync.Mutex
	topics map[string]bool
}

// New wraps an existing producer. admin may be nil when topics are managed
// elsewhere.
func New(producer sarama.SyncProducer, admin sarama.ClusterAdmin, cfg Config, logger *zap.Logger) *Connector {
	c := &Connector{}
	c.init(producer, admin, cfg, logger)
	return c
}

func (c *Connector) init(producer sarama.SyncProducer, admin sarama.ClusterAdmin, cfg Config, logger *zap.Logger) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c.producer = producer
	c.admin = admin
	c.config = cfg
	c.logger = logger
	c.topics = make(map[string]bool)
}

// Connect implements changefeed.Connector.
func (c *Connector) Connect(config map[string]any, logger *zap.Logger) error {
	var cfg Config
	if err := changefeed.DecodeConfig(config, &cfg); err != nil {
		return fmt.Errorf("decode kafka config: %w", err)
	}
	cfg.setDefaults()

	saramaConfig, err := cfg.ToSaramaConfig()
	if err != nil {
		return err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return fmt.Errorf("create Kafka producer: %w", err)
	}

	var admin sarama.ClusterAdmin
	if cfg.CreateTopics {
		admin, err = sarama.NewClusterAdmin(cfg.Brokers, saramaConfig)
		if err != nil {
			producer.Close()
			return fmt.Errorf("create cluster admin: %w", err)
		}
	}

	c.init(producer, admin, cfg, logger)
	return nil
}

// Topic returns the topic an event is written to.
func (c *Connector) Topic(e changefeed.Event) string {
	return fmt.Sprintf("%s.%s.%s", c.config.TopicPrefix, e.Namespace, e.Entity)
}

// Publish implements changefeed.Connector.
func (c *Connector) Publish(_ context.Context, e changefeed.Event) error {
	if c.producer == nil {
		return changefeed.ErrNotConnected
	}
	topic := c.Topic(e)
	if err := c.ensureTopic(topic); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(messageKey(e.ID)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("op"), Value: []byte(e.Op)},
		},
	}

	partition, offset, err := c.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	c.logger.Debug("published change",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close implements changefeed.Connector.
func (c *Connector) Close() error {
	if c.admin != nil {
		c.admin.Close()
	}
	if c.producer != nil {
		return c.producer.Close()
	}
	return nil
}

func (c *Connector) ensureTopic(topic string) error {
	if c.admin == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics[topic] {
		return nil
	}

	existing, err := c.admin.ListTopics()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if _, ok := existing[topic]; !ok {
		retention := strconv.FormatInt(c.config.RetentionMS, 10)
		err := c.admin.CreateTopic(topic, &sarama.TopicDetail{
			NumPartitions:     c.config.Partitions,
			ReplicationFactor: c.config.Replicas,
			ConfigEntries:     map[string]*string{"retention.ms": &retention},
		}, false)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		c.logger.Info("created topic", zap.String("topic", topic))
	}
	c.topics[topic] = true
	return nil
}

func messageKey(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

func init() {
	changefeed.RegisterConnector(changefeed.ConnectorKafka, func() changefeed.Connector { return &Connector{} })
}
