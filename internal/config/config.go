// internal/config/config.go
package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"logship/internal/overflow"
	"logship/internal/provider"
	"logship/internal/shipper"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	zlog "github.com/rs/zerolog/log"
)

// ErrInvalid 는 설정 값이 잘못되었을 때 Load 가 반환한다.
var ErrInvalid = errors.New("config: invalid configuration")

// EnvPrefix 가 붙은 환경 변수만 읽는다.
// 중첩은 "__" 로 구분한다. 예: LOGSHIP_OVERFLOW__ENABLED=true → overflow.enabled
const EnvPrefix = "LOGSHIP_"

// Config
//
// 프로세스 시작 시 Load() 로 한 번 만들고 이후에는 읽기 전용으로 쓴다.
type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Stream   StreamConfig   `koanf:"stream"`
	Overflow OverflowConfig `koanf:"overflow"`
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
}

// ---------------------------
// 서비스 식별 / 로거 front-end
// ---------------------------

type ServiceConfig struct {
	Environment string `koanf:"environment" validate:"required"`
	System      string `koanf:"system" validate:"required"`
	Name        string `koanf:"name" validate:"required"`
	NodeName    string `koanf:"node_name" validate:"required"` // 기본: hostname, 실패 시 랜덤 hex

	DefaultLevel string `koanf:"default_level" validate:"required"`
	Levels       string `koanf:"levels"` // "Foo.Bar=Warning,Baz=Error"
}

// ---------------------------
// primary stream
// ---------------------------

type StreamConfig struct {
	Kind             string        `koanf:"kind" validate:"oneof=kafka console"`
	Brokers          string        `koanf:"brokers"` // "host1:9092,host2:9092"
	Topic            string        `koanf:"topic"`
	ConnectionString string        `koanf:"connection_string"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
}

// ---------------------------
// overflow 저장소
// ---------------------------

type OverflowConfig struct {
	Enabled     bool `koanf:"enabled"`
	ThresholdMB int  `koanf:"threshold_mb" validate:"min=1"`

	SuccessTemplate string `koanf:"success_template" validate:"required"`
	FailureTemplate string `koanf:"failure_template" validate:"required"`

	// pre-signed container URL. 설정되면 S3 항목보다 우선한다.
	ContainerURL string `koanf:"container_url" validate:"omitempty,url"`

	// S3 호환 저장소. access key 가 비어 있으면 AWS 기본 credential chain 을 쓴다.
	Endpoint        string `koanf:"endpoint" validate:"omitempty,url"`
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`

	Extension   string        `koanf:"extension" validate:"required"`
	Compress    bool          `koanf:"compress"`
	Timeout     time.Duration `koanf:"timeout" validate:"gte=0"` // blob 쓰기 1회 timeout
	Cancellable bool          `koanf:"cancellable"`
}

// ---------------------------
// 진단 로그 / HTTP ingest
// ---------------------------

type LogConfig struct {
	Level   string `koanf:"level"`
	Pretty  bool   `koanf:"pretty"`
	SampleN uint32 `koanf:"sample_n"`
}

type HTTPConfig struct {
	Addr        string `koanf:"addr" validate:"required"`
	MaxBodySize int64  `koanf:"max_body_size" validate:"gt=0"`
}

// Default 는 환경 변수가 없을 때 쓰는 값이다.
// Environment / System / Name 은 기본값이 없다 (필수).
func Default() Config {
	return Config{
		Service: ServiceConfig{
			NodeName:     fallbackInstanceID(),
			DefaultLevel: "Information",
		},
		Stream: StreamConfig{
			Kind:    "kafka",
			Timeout: 10 * time.Second,
		},
		Overflow: OverflowConfig{
			ThresholdMB:     1,
			SuccessTemplate: overflow.DefaultSuccessTemplate,
			FailureTemplate: overflow.DefaultFailureTemplate,
			Extension:       overflow.DefaultExtension,
			Timeout:         30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MaxBodySize: 4 << 20,
		},
	}
}

var validate = validator.New()

// Load
//
// 기본값 위에 LOGSHIP_* 환경 변수를 덮어쓰고 검증한다.
// 모든 문제는 ErrInvalid 로 감싸 반환한다.
// overrides 는 환경 변수 적용 후, 검증 전에 실행된다 (CLI flag 반영용).
func Load(overrides ...func(*Config)) (Config, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, o := range overrides {
		o(&cfg)
	}

	if err := validate.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// MustLoad 는 Load 실패 시 즉시 프로세스를 종료한다 (fail-fast).
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("could not load configuration")
	}
	return cfg
}

// check 는 태그로 표현하기 어려운 필드 간 조건을 본다.
func (c *Config) check() error {
	var errs []error

	if c.Stream.Kind == "kafka" && c.Stream.ConnectionString == "" {
		if len(c.Stream.BrokerList()) == 0 || c.Stream.Topic == "" {
			errs = append(errs, errors.New("stream: brokers and topic (or connection_string) are required for kafka"))
		}
	}

	if _, err := provider.ParseLevel(c.Service.DefaultLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.minimumLevels(); err != nil {
		errs = append(errs, err)
	}

	if c.Overflow.Enabled && c.Overflow.ContainerURL == "" && c.Overflow.Bucket == "" {
		errs = append(errs, errors.New("overflow: container_url or bucket is required when enabled"))
	}
	if (c.Overflow.AccessKeyID == "") != (c.Overflow.SecretAccessKey == "") {
		errs = append(errs, errors.New("overflow: access_key_id and secret_access_key must be set together"))
	}
	return errors.Join(errs...)
}

// BrokerList 는 쉼표로 구분된 broker 목록을 나눈다.
func (s StreamConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(s.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) minimumLevels() (map[string]provider.Level, error) {
	out := make(map[string]provider.Level)
	for _, pair := range strings.Split(c.Service.Levels, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cat, lvl, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(cat) == "" {
			return nil, fmt.Errorf("service.levels: malformed entry %q", pair)
		}
		l, err := provider.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("service.levels: %w", err)
		}
		out[strings.TrimSpace(cat)] = l
	}
	return out, nil
}

// ProviderOptions 는 로거 front-end 설정을 만든다.
func (c *Config) ProviderOptions() (provider.Options, error) {
	def, err := provider.ParseLevel(c.Service.DefaultLevel)
	if err != nil {
		return provider.Options{}, err
	}
	levels, err := c.minimumLevels()
	if err != nil {
		return provider.Options{}, err
	}
	return provider.Options{
		Environment:         c.Service.Environment,
		System:              c.Service.System,
		Service:             c.Service.Name,
		NodeName:            c.Service.NodeName,
		DefaultMinimumLevel: def,
		MinimumLevels:       levels,
	}, nil
}

func (c *Config) ShipperOptions() shipper.Options {
	return shipper.Options{
		Service:           c.Service.Name,
		Environment:       c.Service.Environment,
		ThresholdMB:       c.Overflow.ThresholdMB,
		StorageTimeout:    c.Overflow.Timeout,
		CancellableWrites: c.Overflow.Cancellable,
	}
}

// Policy
//
// overflow 설정으로 Policy 를 만든다.
//   - container_url 이 있으면 ContainerURL
//   - bucket 이 있으면 Identity (정적 key 또는 AWS 기본 credential chain)
//
// 비활성이면 credential 을 찾지 않는다.
func (c *Config) Policy(ctx context.Context) (*overflow.Policy, error) {
	o := c.Overflow

	var auth overflow.StorageAuth
	switch {
	case o.ContainerURL != "":
		auth = overflow.ContainerURL{URL: o.ContainerURL}
	case o.Bucket != "" && o.Enabled:
		creds, err := o.credentials(ctx)
		if err != nil {
			return nil, err
		}
		auth = overflow.Identity{
			Endpoint:   o.Endpoint,
			Bucket:     o.Bucket,
			Region:     o.Region,
			Credential: creds,
		}
	}

	opts := []overflow.PolicyOption{overflow.WithExtension(o.Extension)}
	if o.Compress {
		opts = append(opts, overflow.WithCompression())
	}
	return overflow.NewPolicy(o.Enabled, auth, o.SuccessTemplate, o.FailureTemplate, opts...)
}

func (o OverflowConfig) credentials(ctx context.Context) (aws.CredentialsProvider, error) {
	if o.AccessKeyID != "" {
		return credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""), nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if o.Region != "" {
		opts = append(opts, awsconfig.WithRegion(o.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg.Credentials, nil
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
