package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/leetstack/keygate/internal/config"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// loadSettings decodes the effective viper configuration on top of the
// defaults and validates it.
func loadSettings(v *viper.Viper) (*config.FileConfig, error) {
	cfg := config.DefaultFileConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// resolveDataDir returns the data directory from --data-dir flag,
// store.data_dir (KEYGATE_STORE_DATA_DIR), or ~/.keygate as fallback.
func resolveDataDir(cfg *config.FileConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if cfg != nil && cfg.Store.DataDir != "" {
		return cfg.Store.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keygate")
}

// openStore opens the credential store named by store.driver.
func openStore(cfg *config.FileConfig) (*config.Store, error) {
	store, err := config.NewStore(config.StoreOptions{
		Driver:  cfg.Store.Driver,
		DSN:     cfg.Store.DSN,
		DataDir: resolveDataDir(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// openStoreFromFlags loads settings and opens the store, for one-shot
// commands.
func openStoreFromFlags() (*config.Store, *config.FileConfig, error) {
	cfg, err := loadSettings(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// newLogger builds the process logger. Output goes to stderr unless
// log.file is set, in which case it is rotated by lumberjack.
func newLogger(cfg config.LogConfig, dev bool) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
			Compress:   cfg.Compress,
		}
	}

	level := parseLevel(cfg.Level)
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// --- PID file management ---

func pidFilePath(dir string) string {
	return filepath.Join(dir, "keygate.pid")
}

func writePID(dir string, pid int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(dir), []byte(strconv.Itoa(pid)), 0644)
}

func readPID(dir string) (int, error) {
	data, err := os.ReadFile(pidFilePath(dir))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID(dir string) {
	os.Remove(pidFilePath(dir))
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
