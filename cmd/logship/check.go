package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"logship/internal/config"
	"logship/internal/overflow"
	"logship/internal/stream"

	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, stream connectivity and overflow storage credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := check(ctx, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall time allowed for the checks")
	return cmd
}

// check 는 실제 로그는 보내지 않는다.
//   - stream: sender 가 Validator 면 연결/topic 확인
//   - overflow: policy 검증 + 저장소 열기 (credential 조회 포함)
func check(ctx context.Context, cfg config.Config) error {
	sender, err := openSender(cfg, io.Discard)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer sender.Close()

	var errs []error
	if v, ok := sender.(stream.Validator); ok {
		if err := v.Validate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stream: %w", err))
		}
	}

	policy, err := cfg.Policy(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("overflow policy: %w", err))
	} else if _, err := overflow.OpenStore(ctx, policy); err != nil {
		errs = append(errs, fmt.Errorf("overflow store: %w", err))
	}
	return errors.Join(errs...)
}
