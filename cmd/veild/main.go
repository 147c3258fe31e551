// Command veild runs the privacy-preserving transfer and compliance daemon.
//
// It wires the key vault, stealth registry, payment scanner, commitment
// engine, privacy monitor, swap orchestrator, viewing key manager and
// disclosure service over one store and cryptography provider, and serves
// them as a JSON API with a websocket event stream.
//
// # Configuration File
//
//	http:
//	  listen_addr: ":8080"
//	  metrics_addr: ":8090"
//	privacy:
//	  threshold: 70
//	  strict: false
//	  alert_webhook: "https://alerts.example/hook"
//	scanner:
//	  interval: 60s
//	viewing_keys:
//	  approval_threshold: 2
//	  approvers: ["<hex ed25519 public key>", "..."]
//	store:
//	  driver: postgres
//	  postgres:
//	    dsn: "postgres://veil@localhost/veil?sslmode=disable"
//	provider:
//	  url: "http://localhost:8070"
//	auth:
//	  jwt_secret_env: VEIL_JWT_SECRET
//
// Changes to privacy.threshold and privacy.strict are applied without a
// restart while the file is watched.
//
// # Usage
//
//	go run ./cmd/veild --config=veil.yaml
//	go run ./cmd/veild --config=veil.yaml --listen-addr=:9000 --strict
//	go run ./cmd/veild --auth-disabled --log-format=text
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/fikriaf/ars-sub001/api/handlers"
	"github.com/fikriaf/ars-sub001/api/httpserver"
	"github.com/fikriaf/ars-sub001/cmd/common"
	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/privacyscore"
	"github.com/fikriaf/ars-sub001/scanner"
	"github.com/fikriaf/ars-sub001/services"
	"github.com/lightningnetwork/lnd/clock"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		listenAddr   = flag.String("listen-addr", "", "HTTP listen address")
		metricsAddr  = flag.String("metrics-addr", "", "Metrics listen address")
		logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
		logFormat    = flag.String("log-format", "", "Log format: json or text")
		threshold    = flag.Int("threshold", 0, "Privacy score threshold (0-100)")
		strict       = flag.Bool("strict", false, "Refuse swaps below the privacy threshold")
		storeDriver  = flag.String("store", "", "Store driver: memory or postgres")
		providerURL  = flag.String("provider", "", "Remote cryptography provider URL")
		authDisabled = flag.Bool("auth-disabled", false, "Serve the API without authentication")
	)
	flag.Parse()

	isFlagSet := func(name string) bool {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		return found
	}

	cfg := common.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = common.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	if *listenAddr != "" {
		cfg.HTTP.ListenAddr = *listenAddr
	}
	if isFlagSet("metrics-addr") {
		cfg.HTTP.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if isFlagSet("threshold") {
		cfg.Privacy.Threshold = *threshold
	}
	if isFlagSet("strict") {
		cfg.Privacy.Strict = *strict
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
	}
	if *providerURL != "" {
		cfg.Provider.URL = *providerURL
	}
	if *authDisabled {
		cfg.Auth.Disabled = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := common.NewLogger(cfg.Log)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	if err := run(ctx, cfg, *configPath, log.Logger); err != nil && ctx.Err() == nil {
		log.Error("veild failed", "err", err)
		log.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, configPath string, log *slog.Logger) error {
	clk := clock.NewDefaultClock()

	st, err := common.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	// No remote settlement client exists; swaps, claims and stealth
	// announcements settle on the process-local ledger.
	l := ledger.NewMemoryLedger(clk)
	log.Warn("using in-memory ledger", "store", cfg.Store.Driver)

	pepper, err := cfg.VaultPepper()
	if err != nil {
		return err
	}
	vault := crypto.NewVault(crypto.VaultConfig{
		Iterations: cfg.Vault.KDFIterations,
		Pepper:     pepper,
		Log:        log,
	})
	crypto.Zero(pepper)

	var sinks []privacyscore.AlertSink
	if cfg.Privacy.AlertWebhook != "" {
		sinks = append(sinks, privacyscore.NewWebhookSink(cfg.Privacy.AlertWebhook))
	}

	svcCfg, err := cfg.ServicesConfig()
	if err != nil {
		return err
	}
	hub := scanner.NewHub(originChecker(cfg.HTTP.CORSOrigins), log)
	sys, err := services.New(svcCfg, services.Deps{
		Provider:   common.NewProvider(cfg.Provider, l, log),
		Store:      st,
		Vault:      vault,
		Venue:      l,
		Claimer:    l,
		Scorer:     cfg.RiskScorer(),
		AlertSinks: sinks,
		Hub:        hub,
		Clock:      clk,
		Log:        log,
	})
	if err != nil {
		return err
	}

	var auth *handlers.Authenticator
	if cfg.Auth.Disabled {
		log.Warn("API authentication disabled")
	} else {
		auth, err = handlers.NewAuthenticator(cfg.JWTSecret(), cfg.Auth.JWTIssuer, clk)
		if err != nil {
			return err
		}
	}

	api := handlers.New(handlers.Deps{
		Registry:    sys.Registry,
		Scanner:     sys.Scanner,
		Payments:    st,
		Commitments: sys.Commitments,
		Privacy:     sys.Privacy,
		Swaps:       sys.Swaps,
		ViewingKeys: sys.ViewingKeys,
		Approvals:   sys.Approvals,
		Disclosures: sys.Disclosures,
		Events:      hub,
		Auth:        auth,
		Log:         log,
	})

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTP.ListenAddr,
		MetricsAddr:              cfg.HTTP.MetricsAddr,
		EnablePprof:              cfg.HTTP.EnablePprof,
		CORSOrigins:              cfg.HTTP.CORSOrigins,
		RateLimit:                cfg.HTTP.RateLimit,
		RateBurst:                cfg.HTTP.RateBurst,
		Log:                      log,
		DrainDuration:            cfg.HTTP.DrainDuration,
		GracefulShutdownDuration: cfg.HTTP.GracefulShutdown,
		ReadTimeout:              cfg.HTTP.ReadTimeout,
		WriteTimeout:             cfg.HTTP.WriteTimeout,
	}, api)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	srv.RunInBackground()
	defer srv.Shutdown()

	if configPath != "" {
		go func() {
			err := common.WatchConfig(ctx, configPath, log, func(next *common.Config) {
				if err := sys.ApplyPolicy(next.Privacy.Threshold, next.Privacy.Strict); err != nil {
					log.Error("applying privacy policy", "err", err)
					return
				}
				log.Info("privacy policy updated", "threshold", next.Privacy.Threshold, "strict", next.Privacy.Strict)
			})
			if err != nil {
				log.Error("config watcher stopped", "err", err)
			}
		}()
	}

	return sys.Run(ctx)
}

// originChecker accepts websocket upgrades from the configured CORS origins.
// Without origins only same-origin requests are accepted.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
	}
}
