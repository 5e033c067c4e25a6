package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// KafkaOptions
// ------------------------------------------------------------
// Kafka 프로토콜 primary stream 접속 정보.
// Azure Event Hubs 의 Kafka endpoint 도 같은 방식으로 붙는다:
// ConnectionString 이 있으면 SASL PLAIN ("$ConnectionString") + TLS 를 쓰고,
// Brokers/Topic 이 비어 있으면 connection string 의 Endpoint/EntityPath 에서 채운다.
type KafkaOptions struct {
	Brokers          []string
	Topic            string
	ConnectionString string
	Timeout          time.Duration // 쓰기/다이얼 timeout (0 → 10s)
}

// KafkaSender 는 kafka-go Writer 를 감싼다.
// 재시도/배치는 kafka-go Writer 에 맡긴다.
type KafkaSender struct {
	writer *kafka.Writer
	dialer *kafka.Dialer
	opts   KafkaOptions
}

const eventHubsKafkaPort = "9093"

func NewKafkaSender(opts KafkaOptions) (*KafkaSender, error) {
	if opts.ConnectionString != "" {
		cs, err := ParseConnectionString(opts.ConnectionString)
		if err != nil {
			return nil, err
		}
		if len(opts.Brokers) == 0 && cs.Host != "" {
			opts.Brokers = []string{net.JoinHostPort(cs.Host, eventHubsKafkaPort)}
		}
		if opts.Topic == "" {
			opts.Topic = cs.EntityPath
		}
	}
	if len(opts.Brokers) == 0 {
		return nil, errors.New("stream: no kafka brokers configured")
	}
	if opts.Topic == "" {
		return nil, errors.New("stream: no kafka topic configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	transport := &kafka.Transport{DialTimeout: opts.Timeout}
	dialer := &kafka.Dialer{Timeout: opts.Timeout, DualStack: true}
	if opts.ConnectionString != "" {
		mech := plain.Mechanism{Username: "$ConnectionString", Password: opts.ConnectionString}
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		transport.SASL, transport.TLS = mech, tlsCfg
		dialer.SASLMechanism, dialer.TLS = mech, tlsCfg
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: opts.Timeout,
		Transport:    transport,
	}
	return &KafkaSender{writer: w, dialer: dialer, opts: opts}, nil
}

func (k *KafkaSender) Send(ctx context.Context, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}

// Validate 는 첫 broker 에 접속해 topic 의 partition 정보를 읽는다.
func (k *KafkaSender) Validate(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.opts.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", k.opts.Brokers[0], err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(k.opts.Topic)
	if err != nil {
		return fmt.Errorf("read partitions of %q: %w", k.opts.Topic, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("topic %q has no partitions", k.opts.Topic)
	}
	return nil
}

func (k *KafkaSender) Close() error {
	return k.writer.Close()
}

// ConnectionString 은 Event Hubs 연결 문자열에서 필요한 부분이다.
//
//	Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=v;EntityPath=logs
type ConnectionString struct {
	Host       string
	KeyName    string
	EntityPath string
}

func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("stream: malformed connection string segment %q", k)
		}
		switch strings.ToLower(k) {
		case "endpoint":
			host := v
			if i := strings.Index(host, "://"); i >= 0 {
				host = host[i+3:]
			}
			cs.Host = strings.TrimSuffix(host, "/")
		case "sharedaccesskeyname":
			cs.KeyName = v
		case "entitypath":
			cs.EntityPath = v
		}
	}
	if cs.Host == "" {
		return ConnectionString{}, errors.New("stream: connection string has no Endpoint")
	}
	return cs, nil
}
