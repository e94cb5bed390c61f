package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leetstack/keygate/internal/config"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running keygate server",
		Long:  "Send a graceful shutdown signal to a keygate server started with 'keygate serve'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func runStop() error {
	cfg, err := loadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	dir := resolveDataDir(cfg)

	pid, err := readPID(dir)
	if err != nil {
		return fmt.Errorf("no running server found (missing PID file at %s)", pidFilePath(dir))
	}

	if !isProcessRunning(pid) {
		removePID(dir)
		return fmt.Errorf("server (PID %d) is not running (stale PID file removed)", pid)
	}

	fmt.Printf("Stopping keygate server (PID %d)...\n", pid)

	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// Wait for process to exit
	timeout := config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second) + 5*time.Second
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !isProcessRunning(pid) {
			removePID(dir)
			fmt.Println("Server stopped.")
			return nil
		}
	}

	return fmt.Errorf("server (PID %d) did not stop within %s; it may still be draining connections", pid, timeout)
}
