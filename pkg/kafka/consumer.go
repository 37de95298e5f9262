package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "FluxDash/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// fetcher is the part of *kafka.Reader the consumer uses.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads every registered topic in its consumer group and hands
// messages to a fixed set of workers. A partition always maps to the same
// worker, so its messages are handled and committed in offset order.
type Consumer struct {
	cfg      ConsumerConfig
	log      *applogger.Logger
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]fetcher
	dlq      messageWriter

	newReader func(topic string) fetcher

	queues  []chan kafka.Message
	stop    chan struct{}
	workers sync.WaitGroup
	once    sync.Once
}

// NewConsumer validates the options. Readers are created by Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger.Named("kafka-consumer"),
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]fetcher),
		stop:     make(chan struct{}),
	}
	c.newReader = func(topic string) fetcher { return kafka.NewReader(cfg.readerConfig(topic)) }
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.DLQTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}

	initConsumerMetrics()
	return c, nil
}

// RegisterHandler binds handler to its topic. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.log.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}

	c.queues = make([]chan kafka.Message, c.cfg.WorkerCount)
	for i := range c.queues {
		c.queues[i] = make(chan kafka.Message, c.cfg.BufferSize)
		c.workers.Add(1)
		go c.work(c.queues[i])
	}

	var fetchers sync.WaitGroup
	for topic := range c.handlers {
		r := c.newReader(topic)
		c.readers[topic] = r
		fetchers.Add(1)
		go func() {
			defer fetchers.Done()
			c.fetch(topic, r)
		}()
	}
	go func() {
		fetchers.Wait()
		for _, q := range c.queues {
			close(q)
		}
	}()

	c.log.Info("consumer started",
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.Int("topics", len(c.readers)),
		applogger.String("group", c.cfg.GroupID))
	return nil
}

// Stop halts fetching, lets the workers drain what is queued and closes the readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		close(c.stop)

		drained := make(chan struct{})
		go func() {
			c.workers.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Error("close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Error("close dlq writer", applogger.Error(cerr))
			}
		}
		if err == nil {
			c.log.Info("consumer stopped")
		}
	})
	return err
}

func (c *Consumer) fetch(topic string, r fetcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("fetch message", applogger.String("topic", topic), applogger.Error(err))
			if !sleepOrStop(c.stop, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		if km.Topic == "" {
			km.Topic = topic
		}

		q := c.queues[c.shard(topic, km.Partition)]
		select {
		case q <- km:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(q)))
		case <-c.stop:
			return
		}
	}
}

func (c *Consumer) shard(topic string, partition int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(len(c.queues)))
}

func (c *Consumer) work(queue <-chan kafka.Message) {
	defer c.workers.Done()
	for km := range queue {
		start := time.Now()
		c.process(km)
		consumerHandleLatency.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())
	}
}

// process commits after success, or after the message was parked in the DLQ.
// Without a DLQ a failed offset stays uncommitted and is redelivered after a rebalance.
func (c *Consumer) process(km kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in message handler",
				applogger.String("topic", km.Topic), applogger.Any("panic", r))
		}
	}()

	handler, ok := c.handlers[km.Topic]
	if !ok {
		return
	}

	attempts, err := c.handle(handler, km)
	if err != nil {
		consumerFailedTotal.WithLabelValues(km.Topic).Inc()
		c.hook.OnError(context.Background(), km.Topic, km, km.Value, err)
		c.log.Error("handle message failed",
			applogger.String("topic", km.Topic),
			applogger.Int("attempts", attempts),
			applogger.Int64("offset", km.Offset),
			applogger.Error(err))
		if !c.deadLetter(km) {
			return
		}
	}
	c.commit(km)
}

func (c *Consumer) handle(handler MessageHandler, km kafka.Message) (int, error) {
	for attempt := 1; ; attempt++ {
		ctx, hkm, data, err := c.hook.BeforeHandle(context.Background(), km.Topic, km, km.Value)
		if err != nil {
			return attempt, err
		}
		err = handler.Handle(ctx, data)
		c.hook.AfterHandle(ctx, km.Topic, hkm, data, err)
		if err == nil || attempt > c.cfg.RetryMax {
			return attempt, err
		}
		if !sleepOrStop(c.stop, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return attempt, err
		}
	}
}

func (c *Consumer) deadLetter(km kafka.Message) bool {
	if c.dlq == nil {
		return false
	}
	headers := append(append([]kafka.Header(nil), km.Headers...),
		kafka.Header{Key: "source_topic", Value: []byte(km.Topic)},
		kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
	)
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Key:     km.Key,
		Value:   km.Value,
		Headers: headers,
	})
	if err != nil {
		c.log.Error("write dlq", applogger.String("dlq_topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(km kafka.Message) {
	r := c.readers[km.Topic]
	if r == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("commit offset",
		applogger.String("topic", km.Topic),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err))
}

// backoff doubles lo per attempt up to hi and subtracts up to half as jitter.
func backoff(lo, hi time.Duration, attempt int) time.Duration {
	lo = max(lo, time.Millisecond)
	hi = max(hi, lo)
	d := hi
	if attempt < 32 {
		if exp := lo << (max(attempt, 1) - 1); exp > 0 && exp < hi {
			d = exp
		}
	}
	if half := int64(d / 2); half > 0 {
		d -= time.Duration(rand.Int64N(half))
	}
	return d
}

func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerFailedTotal   *prometheus.CounterVec
	consumerOnce          sync.Once
)

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "fluxdash_kafka_consumer_queue_depth", Help: "Messages waiting in a worker queue"},
			[]string{"topic"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "fluxdash_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
		consumerFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "fluxdash_kafka_consumer_failed_total", Help: "Messages that exhausted retries"},
			[]string{"topic"},
		)
	})
}
