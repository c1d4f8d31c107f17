// Package broker owns the Kafka producer connection used by a replay job.
//
// A Channel is bound to one topic on one bootstrap address and is used by a
// single job goroutine. Its settings are fixed: one replica must acknowledge
// each write within 100ms, the producer never retries, and messages are
// partitioned by key so items sharing a key keep their relative order.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	"kafka-stream-replay/internal/models"
	"kafka-stream-replay/internal/telemetry"
)

// DefaultKey routes messages that carry no key of their own.
const DefaultKey = "0"

const (
	ackTimeoutMs   = 100
	flushTimeoutMs = 500
)

// producer is the subset of *kafka.Producer the channel relies on.
type producer interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Channel is a producer connection bound to one topic.
type Channel struct {
	addr            string
	topic           string
	initTimeout     time.Duration
	deliveryTimeout time.Duration
	log             zerolog.Logger
	newProducer     func(*kafka.ConfigMap) (producer, error)

	p    producer
	done chan struct{}
}

// Option customizes a Channel.
type Option func(*Channel)

// WithInitTimeout bounds how long Initialize waits for the broker.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.initTimeout = d
		}
	}
}

// WithDeliveryTimeout bounds how long a message may wait for its delivery
// report, including time spent queued locally.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.deliveryTimeout = d
		}
	}
}

// WithLogger sets the logger used for producer events.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// NewChannel returns an uninitialized channel for topic on addr.
func NewChannel(addr, topic string, opts ...Option) *Channel {
	c := &Channel{
		addr:            addr,
		topic:           topic,
		initTimeout:     10 * time.Second,
		deliveryTimeout: 5 * time.Second,
		log:             zerolog.Nop(),
		newProducer: func(cm *kafka.ConfigMap) (producer, error) {
			return kafka.NewProducer(cm)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) configMap() *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":        c.addr,
		"acks":                     1,
		"request.timeout.ms":       ackTimeoutMs,
		"partitioner":              "consistent",
		"message.send.max.retries": 0,
		"enable.idempotence":       false,
		"message.timeout.ms":       int(c.deliveryTimeout.Milliseconds()),
	}
}

// Initialize connects to the broker and blocks until it answers a metadata
// request for the topic, the init timeout elapses, or ctx is done. It must be
// called once, before any Send.
func (c *Channel) Initialize(ctx context.Context) error {
	if c.p != nil {
		return &models.ConnectionError{Addr: c.addr, Err: errors.New("channel already initialized")}
	}
	p, err := c.newProducer(c.configMap())
	if err != nil {
		return &models.ConnectionError{Addr: c.addr, Err: err}
	}

	timeout := c.initTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	if timeout <= 0 {
		p.Close()
		return &models.ConnectionError{Addr: c.addr, Err: context.DeadlineExceeded}
	}

	ready := make(chan error, 1)
	go func() {
		md, err := p.GetMetadata(&c.topic, false, int(timeout.Milliseconds()))
		if err == nil && md != nil {
			if tm, ok := md.Topics[c.topic]; ok && tm.Error.Code() != kafka.ErrNoError {
				c.log.Warn().Str("topic", c.topic).Err(tm.Error).Msg("topic metadata reported an error")
			}
		}
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			p.Close()
			return &models.ConnectionError{Addr: c.addr, Err: err}
		}
	case <-ctx.Done():
		go func() {
			<-ready
			p.Close()
		}()
		return &models.ConnectionError{Addr: c.addr, Err: ctx.Err()}
	}

	c.p = p
	c.done = make(chan struct{})
	go c.drain(p, c.done)
	return nil
}

// Send validates p and writes it with one Produce call, then waits for the
// delivery report. There is no retry.
func (c *Channel) Send(ctx context.Context, p *models.Payload) error {
	if err := validate(p); err != nil {
		return err
	}
	if c.p == nil {
		return &models.TransportError{Topic: c.topic, Err: errors.New("channel not initialized")}
	}
	body, err := p.Body()
	if err != nil {
		return &models.ValidationError{Field: "payload", Msg: fmt.Sprintf("payload is not valid json: %v", err)}
	}
	key := p.Key
	if key == "" {
		key = DefaultKey
	}

	delivery := make(chan kafka.Event, 1)
	start := time.Now()
	err = c.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &c.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          []byte(body),
	}, delivery)
	if err != nil {
		return &models.TransportError{Topic: c.topic, Err: err}
	}

	select {
	case ev := <-delivery:
		telemetry.SendDuration.Observe(time.Since(start).Seconds())
		m, ok := ev.(*kafka.Message)
		if !ok {
			return &models.TransportError{Topic: c.topic, Err: fmt.Errorf("unexpected delivery event %v", ev)}
		}
		if m.TopicPartition.Error != nil {
			return &models.TransportError{Topic: c.topic, Err: m.TopicPartition.Error}
		}
		return nil
	case <-ctx.Done():
		return &models.TransportError{Topic: c.topic, Err: ctx.Err()}
	}
}

// Close flushes briefly and releases the producer. It is safe to call on a
// channel that was never initialized and to call more than once.
func (c *Channel) Close() {
	if c.p == nil {
		return
	}
	close(c.done)
	if left := c.p.Flush(flushTimeoutMs); left > 0 {
		c.log.Warn().Int("pending", left).Str("topic", c.topic).Msg("closing producer with undelivered messages")
	}
	c.p.Close()
	c.p = nil
}

// drain consumes non-delivery events so the producer never blocks on them.
func (c *Channel) drain(p producer, done <-chan struct{}) {
	events := p.Events()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if kerr, isErr := ev.(kafka.Error); isErr {
				c.log.Warn().Err(kerr).Str("broker", c.addr).Msg("producer error")
			}
		}
	}
}

func validate(p *models.Payload) error {
	if p == nil {
		return &models.ValidationError{Msg: "message cannot be empty"}
	}
	if !p.HasBody() {
		if p.Key != "" {
			return &models.ValidationError{Field: "payload", Msg: "payload is required if 'key' is present"}
		}
		return &models.ValidationError{Msg: "messages can only be objects or strings"}
	}
	return nil
}
