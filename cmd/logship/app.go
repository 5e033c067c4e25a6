package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"logship/internal/config"
	"logship/internal/metrics"
	"logship/internal/overflow"
	"logship/internal/provider"
	"logship/internal/shipper"
	"logship/internal/storage"
	"logship/internal/stream"

	zlog "github.com/rs/zerolog/log"
)

// app 은 설정으로 조립한 파이프라인 한 벌이다.
//
//	provider → shipper → stream
//	                  ↘ overflow store
type app struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	sender   stream.Sender
	store    storage.BlobStore
	shipper  *shipper.Shipper
	provider *provider.Provider
}

// openSender 는 stream.kind 에 맞는 sender 를 만든다.
// console 은 out 에 한 줄씩 쓴다.
func openSender(cfg config.Config, out io.Writer) (stream.Sender, error) {
	switch cfg.Stream.Kind {
	case "console":
		return stream.NewConsoleSender(out), nil
	case "kafka":
		return stream.NewKafkaSender(stream.KafkaOptions{
			Brokers:          cfg.Stream.BrokerList(),
			Topic:            cfg.Stream.Topic,
			ConnectionString: cfg.Stream.ConnectionString,
			Timeout:          cfg.Stream.Timeout,
		})
	}
	return nil, fmt.Errorf("%w: unknown stream kind %q", config.ErrInvalid, cfg.Stream.Kind)
}

// newApp
//
// 조립 순서:
//  1. stream sender
//  2. overflow policy + 저장소 (비활성이면 저장소 없음)
//  3. shipper (sender 소유)
//  4. provider front-end
//
// 중간에 실패하면 이미 연 sender 를 닫는다.
func newApp(ctx context.Context, cfg config.Config, out io.Writer) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	sender, err := openSender(cfg, out)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	a.sender = sender

	fail := func(err error) (*app, error) {
		return nil, errors.Join(err, sender.Close())
	}

	policy, err := cfg.Policy(ctx)
	if err != nil {
		return fail(fmt.Errorf("overflow policy: %w", err))
	}
	if a.store, err = overflow.OpenStore(ctx, policy); err != nil {
		return fail(fmt.Errorf("open overflow store: %w", err))
	}

	a.shipper, err = shipper.New(sender, policy, a.store, cfg.ShipperOptions(),
		shipper.WithMetrics(a.metrics),
		shipper.WithLogger(zlog.Logger.With().Str("component", "shipper").Logger()),
	)
	if err != nil {
		return fail(err)
	}

	opts, err := cfg.ProviderOptions()
	if err != nil {
		return fail(err)
	}
	if a.provider, err = provider.New(opts, a.shipper); err != nil {
		return fail(err)
	}

	zlog.Info().
		Str("stream", cfg.Stream.Kind).
		Bool("overflow", policy.Enabled).
		Int("threshold_mb", cfg.Overflow.ThresholdMB).
		Msg("pipeline ready")
	return a, nil
}

// Close 는 진행 중 엔트리를 기다린 뒤 stream 을 닫는다.
func (a *app) Close(ctx context.Context) error {
	err := a.shipper.Close(ctx)
	zlog.Info().Str("metrics", a.metrics.String()).Msg("shipper closed")
	return err
}
