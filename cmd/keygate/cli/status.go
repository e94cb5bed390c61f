package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the keygate server is running",
		Long:  "Check the status of the keygate server, including process state and HTTP readiness.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := loadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	dir := resolveDataDir(cfg)

	pid, err := readPID(dir)
	if err != nil {
		fmt.Println("Server is not running (no PID file found).")
		return nil
	}

	if !isProcessRunning(pid) {
		removePID(dir)
		fmt.Println("Server is not running (stale PID file removed).")
		return nil
	}

	// Server process is alive; check that it can reach its store.
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	readyAddr := fmt.Sprintf("http://%s:%d/readyz", host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyAddr)
	if err != nil {
		fmt.Printf("Server process is running (PID %d) but not responding to HTTP.\n", pid)
		return nil
	}
	resp.Body.Close()

	fmt.Printf("Server is running (PID %d)\n", pid)
	fmt.Printf("  Ready:   %s (%d)\n", readyAddr, resp.StatusCode)
	if cfg.Log.File != "" {
		fmt.Printf("  Logs:    %s\n", cfg.Log.File)
	}
	return nil
}
