package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/assertion"
	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// EventHubAdapter publishes and reads events through the Kafka protocol.
//
// A connection string of the form "Endpoint=sb://<ns>.servicebus.windows.net/;..."
// targets the namespace's Kafka endpoint on port 9093 with SASL PLAIN
// ($ConnectionString) over TLS. "kafka://host:port[,host:port]" targets a
// plain broker, which is what local stacks and tests use.
//
// Reads never join a consumer group: every consume and waitFor starts from
// the first offset at or after the later of the test start and the last
// clear of the topic, so parallel tests see the same stream.
type EventHubAdapter struct {
	brokers       []string
	entityPath    string
	consumerGroup string
	saslPassword  string

	mu       sync.Mutex
	client   sarama.Client
	producer sarama.SyncProducer

	clearedMu sync.Mutex
	cleared   map[string]time.Time
}

// EventHubEndpoint holds the parts of a connection string we need.
type EventHubEndpoint struct {
	Brokers    []string
	EntityPath string
	SASL       bool
}

// ParseEventHubConnectionString understands both the Event Hubs and the
// kafka:// forms.
func ParseEventHubConnectionString(s string) (*EventHubEndpoint, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "kafka://") {
		hosts := strings.Split(strings.TrimPrefix(s, "kafka://"), ",")
		ep := &EventHubEndpoint{}
		for _, h := range hosts {
			if h = strings.TrimSpace(strings.TrimSuffix(h, "/")); h != "" {
				ep.Brokers = append(ep.Brokers, h)
			}
		}
		if len(ep.Brokers) == 0 {
			return nil, fmt.Errorf("no brokers in %q", s)
		}
		return ep, nil
	}

	ep := &EventHubEndpoint{SASL: true}
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "endpoint":
			u, err := url.Parse(strings.TrimSpace(v))
			if err != nil || u.Host == "" {
				return nil, fmt.Errorf("invalid endpoint %q", v)
			}
			host := u.Hostname()
			ep.Brokers = []string{host + ":9093"}
		case "entitypath":
			ep.EntityPath = strings.TrimSpace(v)
		}
	}
	if len(ep.Brokers) == 0 {
		return nil, fmt.Errorf("connection string has no Endpoint")
	}
	return ep, nil
}

// NewEventHub parses the connection string into Kafka broker settings. It
// does not connect.
func NewEventHub(cfg config.AdapterConfig) (*EventHubAdapter, error) {
	ep, err := ParseEventHubConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	a := &EventHubAdapter{
		brokers:       ep.Brokers,
		entityPath:    ep.EntityPath,
		consumerGroup: cfg.String("consumerGroup"),
		cleared:       make(map[string]time.Time),
	}
	if a.consumerGroup == "" {
		a.consumerGroup = "e2e-runner"
	}
	if ep.SASL {
		a.saslPassword = cfg.ConnectionString
	}
	return a, nil
}

func (a *EventHubAdapter) Name() string { return string(EventHub) }

func (a *EventHubAdapter) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V1_0_0_0
	cfg.ClientID = a.consumerGroup
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Consumer.Return.Errors = true
	cfg.Net.DialTimeout = 10 * time.Second

	if a.saslPassword != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = "$ConnectionString"
		cfg.Net.SASL.Password = a.saslPassword
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cfg
}

func (a *EventHubAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	client, err := sarama.NewClient(a.brokers, a.saramaConfig())
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("creating producer: %w", err)
	}
	a.client = client
	a.producer = producer
	return nil
}

func (a *EventHubAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}

	var errList []error
	if err := a.producer.Close(); err != nil {
		errList = append(errList, err)
	}
	if err := a.client.Close(); err != nil && err != sarama.ErrClosedClient {
		errList = append(errList, err)
	}
	a.client, a.producer = nil, nil

	if len(errList) > 0 {
		return fmt.Errorf("disconnect errors: %v", errList)
	}
	return nil
}

func (a *EventHubAdapter) conn() (sarama.Client, sarama.SyncProducer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client, a.producer
}

func (a *EventHubAdapter) HealthCheck(ctx context.Context) bool {
	client, _ := a.conn()
	if client == nil {
		return false
	}
	if err := client.RefreshMetadata(); err != nil {
		log.Debug().Err(err).Msg("eventhub health check failed")
		return false
	}
	return true
}

func (a *EventHubAdapter) topic(params map[string]any) string {
	if t := paramString(params, "topic"); t != "" {
		return t
	}
	return a.entityPath
}

func (a *EventHubAdapter) Execute(ctx context.Context, action string, params map[string]any, ac *Context) (*Result, error) {
	client, producer := a.conn()
	if client == nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "not connected"}
	}
	topic := a.topic(params)
	if topic == "" {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "topic is required"}
	}

	start := time.Now()
	var (
		data map[string]any
		err  error
	)
	switch action {
	case "publish":
		data, err = a.publish(producer, topic, params)
	case "consume":
		count := paramInt(params, "count", 1)
		timeout := paramMillis(params, "timeout", 10*time.Second)
		var msgs []any
		msgs, err = a.read(ctx, client, topic, a.since(topic, ac), timeout, func(got []any) bool { return len(got) >= count })
		if err == nil {
			if len(msgs) < count {
				err = fmt.Errorf("received %d of %d messages within %s", len(msgs), count, timeout)
			} else {
				data = map[string]any{"messages": msgs[:count], "count": count}
			}
		}
	case "waitFor":
		timeout := paramMillis(params, "timeout", 30*time.Second)
		filter := params["filter"]
		var match any
		_, err = a.read(ctx, client, topic, a.since(topic, ac), timeout, func(got []any) bool {
			last := got[len(got)-1]
			if assertion.CheckPaths(last, filter) == nil {
				match = last
				return true
			}
			return false
		})
		if err == nil {
			if match == nil {
				err = fmt.Errorf("no matching message within %s", timeout)
			} else {
				data = map[string]any{"message": match}
			}
		}
	case "clear":
		a.clearedMu.Lock()
		a.cleared[topic] = time.Now()
		a.clearedMu.Unlock()
		data = map[string]any{"cleared": true}
	default:
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "unknown action"}
	}
	if err != nil {
		return nil, errs.NewAdapterError(a.Name(), action, err)
	}
	return &Result{Data: data, Duration: time.Since(start)}, nil
}

func (a *EventHubAdapter) publish(producer sarama.SyncProducer, topic string, params map[string]any) (map[string]any, error) {
	body, _, err := encodeBody(params["body"])
	if err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	}
	if key := paramString(params, "key"); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range paramMap(params, "headers") {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(fmt.Sprint(v)),
		})
	}

	partition, offset, err := producer.SendMessage(msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"partition": partition, "offset": offset}, nil
}

// since is the read watermark for topic within the current test.
func (a *EventHubAdapter) since(topic string, ac *Context) time.Time {
	var t time.Time
	if ac != nil {
		t = ac.StartedAt
	}
	a.clearedMu.Lock()
	defer a.clearedMu.Unlock()
	if c, ok := a.cleared[topic]; ok && c.After(t) {
		t = c
	}
	return t
}

// read consumes every partition of topic from the first offset at or after
// since, calling done after each message until it returns true or timeout
// elapses. Running out of time is not an error; callers decide.
func (a *EventHubAdapter) read(ctx context.Context, client sarama.Client, topic string, since time.Time, timeout time.Duration, done func([]any) bool) ([]any, error) {
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("creating consumer: %w", err)
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("getting partitions: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgCh := make(chan *sarama.ConsumerMessage)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, partition := range partitions {
		offset := sarama.OffsetOldest
		if !since.IsZero() {
			offset, err = client.GetOffset(topic, partition, since.UnixMilli())
			if err != nil {
				return nil, fmt.Errorf("resolving offset for partition %d: %w", partition, err)
			}
			if offset < 0 {
				offset = sarama.OffsetNewest
			}
		}
		pc, err := consumer.ConsumePartition(topic, partition, offset)
		if err != nil {
			return nil, fmt.Errorf("consuming partition %d: %w", partition, err)
		}

		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			defer pc.Close()
			for {
				select {
				case msg, ok := <-pc.Messages():
					if !ok {
						return
					}
					select {
					case msgCh <- msg:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(pc)
	}

	var got []any
	for {
		select {
		case msg := <-msgCh:
			got = append(got, messageView(msg))
			if done(got) {
				return got, nil
			}
		case <-ctx.Done():
			return got, nil
		}
	}
}

func messageView(msg *sarama.ConsumerMessage) map[string]any {
	headers := make(map[string]any, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			headers[string(h.Key)] = string(h.Value)
		}
	}
	return map[string]any{
		"key":       string(msg.Key),
		"body":      decodeBody(msg.Value),
		"headers":   headers,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
