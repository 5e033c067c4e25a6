package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"logship/internal/config"
	"logship/internal/logger"
	"logship/internal/server"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPipeCommand() *cobra.Command {
	var (
		console     bool
		drainWithin time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Ship newline-delimited JSON log entries read from stdin",
		Long: "Each input line is a JSON object with the same shape as the POST /log body. " +
			"Malformed lines are skipped and counted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var overrides []func(*config.Config)
			if console {
				overrides = append(overrides, func(c *config.Config) { c.Stream.Kind = "console" })
			}
			cfg, err := config.Load(overrides...)
			if err != nil {
				return err
			}
			logger.Init(cfg)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return pipe(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), drainWithin)
		},
	}
	cmd.Flags().BoolVar(&console, "console", false, "write to stdout instead of the configured stream")
	cmd.Flags().DurationVar(&drainWithin, "drain-timeout", 30*time.Second,
		"time allowed for in-flight entries after end of input")
	return cmd
}

// pipe 는 입력 끝까지 읽은 뒤 진행 중 엔트리를 기다리고 종료한다.
// 줄 길이에 상한을 두지 않는다 (overflow 대상 엔트리는 1MB 를 넘는다).
func pipe(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer, drainWithin time.Duration) error {
	a, err := newApp(ctx, cfg, out)
	if err != nil {
		return err
	}

	var lines, skipped int
	r := bufio.NewReader(in)
	for {
		line, readErr := r.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			lines++
			req, level, err := server.DecodeRequest(line)
			if err != nil {
				skipped++
				zlog.Warn().Err(err).Int("line", lines).Msg("skipping malformed entry")
			} else {
				req.Emit(a.provider, level)
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				err = fmt.Errorf("read input: %w", readErr)
			}
			break
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainWithin)
	defer cancel()
	if cerr := a.Close(drainCtx); cerr != nil {
		err = errors.Join(err, cerr)
	}

	zlog.Info().Int("lines", lines).Int("skipped", skipped).Msg("input drained")
	if err == nil && skipped > 0 {
		fmt.Fprintf(os.Stderr, "logship: %d of %d lines skipped\n", skipped, lines)
	}
	return err
}
