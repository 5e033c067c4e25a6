// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"logship/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번 호출한다. 전역 zerolog logger 와 표준 log 출력을 교체한다.
//
// 진단 로그는 항상 stderr 로 나간다.
// stdout 은 console stream(pipe 모드)이 쓰므로 섞이면 안 된다.
//
//	logger.Init(cfg)
//	log.Info().Msg("shipper started")
func Init(cfg config.Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Log.Level))

	var w io.Writer = os.Stderr
	if cfg.Log.Pretty {
		// 개발 환경: 사람이 읽는 색상 출력
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	zlog.Logger = New(w, cfg)

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New
//
// 공통 필드(service, instance)를 붙인 logger 를 만든다.
//   - Log.SampleN > 1 이면 Debug/Info 는 N 개 중 1 개만 남긴다
//   - Warn 이상은 샘플링하지 않는다
func New(w io.Writer, cfg config.Config) zerolog.Logger {
	base := zerolog.New(w).
		Level(parseLevel(cfg.Log.Level)).
		With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("instance", cfg.Service.NodeName).
		Logger()

	if cfg.Log.SampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.Log.SampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.Log.SampleN},
		})
	}
	return base
}

// parseLevel 은 알 수 없는 값이면 info 로 둔다.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if l, err := zerolog.ParseLevel(s); err == nil && s != "" {
		return l
	}
	return zerolog.InfoLevel
}
