package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leetstack/keygate/internal/config"
	"github.com/leetstack/keygate/internal/server"
	"github.com/leetstack/keygate/internal/server/middleware"
	"github.com/leetstack/keygate/internal/service"
	"github.com/leetstack/keygate/internal/telemetry"
)

const banner = `
 _                          _
| | _____ _   _  __ _  __ _| |_ ___
| |/ / _ \ | | |/ _' |/ _' | __/ _ \
|   <  __/ |_| | (_| | (_| | ||  __/
|_|\_\___|\__, |\__, |\__,_|\__\___|
          |___/ |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server that exchanges API keys for session tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, devMode)

	// 1. Hashing must be available before anything is accepted.
	hasher, err := service.NewHasher()
	if err != nil {
		return err
	}

	// 2. Credential store
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("credential store initialized", "driver", store.Driver())

	// 3. Metrics
	var metrics *telemetry.Metrics
	var observer service.Observer
	if cfg.Metrics.Enabled {
		metrics = telemetry.New()
		observer = metrics
	}

	// 4. Verifier and session issuer
	verifier := service.NewVerifier(store, hasher, logger, service.VerifierConfig{
		TouchTimeout: config.Duration(cfg.Auth.TouchTimeout, service.DefaultTouchTimeout),
		Observer:     observer,
	})
	issuer, err := service.NewSessionIssuer(
		cfg.Auth.SessionSecret,
		config.Duration(cfg.Auth.SessionTTL, service.DefaultSessionTTL),
		logger,
	)
	if err != nil {
		return err
	}

	// 5. Build and start HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second),
		ReadTimeout:     config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout:    config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
		CORSOrigins:     cfg.Server.CORSOrigins,
		LoginRoute: middleware.LoginRoute{
			Method: http.MethodPost,
			Path:   cfg.Auth.LoginPath,
			Header: cfg.Auth.APIKeyHeader,
		},
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		Version:        versionString(),
	}
	srv := server.New(srvCfg, store, verifier, issuer, metrics, logger)

	dir := resolveDataDir(cfg)
	if err := writePID(dir, os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "path", pidFilePath(dir), "error", err)
	}
	defer removePID(dir)

	fmt.Printf("→ keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Login:      POST http://%s:%d%s (%s header)\n", cfg.Server.Host, cfg.Server.Port, cfg.Auth.LoginPath, cfg.Auth.APIKeyHeader)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Metrics.Enabled {
		fmt.Printf("→ Metrics:    http://%s:%d%s\n", cfg.Server.Host, cfg.Server.Port, cfg.Metrics.Path)
	}
	fmt.Println()

	return srv.ListenAndServe()
}
