package main

import (
	"os"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"
)

func main() {
	// 컨테이너 vCPU 에 맞춰 GOMAXPROCS 를 환경 변수로 조정할 수 있다.
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	}

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "logship",
		Short: "Structured log shipper with oversize overflow to blob storage",
		Long: "logship forwards structured log entries to an event stream. Entries whose " +
			"serialized form reaches the size threshold are stored as blobs and replaced " +
			"by a reference entry. Configuration is read from LOGSHIP_* environment variables.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newPipeCommand())
	root.AddCommand(newCheckCommand())
	return root
}
