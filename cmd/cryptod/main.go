// Command cryptod serves the cryptography provider over HTTP so that veild
// instances can delegate stealth address, commitment and viewing key
// operations to a separate process.
//
//	go run ./cmd/cryptod --listen-addr=:8070
//	go run ./cmd/veild --provider=http://localhost:8070
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fikriaf/ars-sub001/api/httpserver"
	"github.com/fikriaf/ars-sub001/cmd/common"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/lightningnetwork/lnd/clock"
)

func main() {
	var (
		listenAddr   = flag.String("listen-addr", ":8070", "HTTP listen address")
		metricsAddr  = flag.String("metrics-addr", "", "Metrics listen address")
		replayWindow = flag.Duration("replay-window", 10*time.Minute, "How long idempotent replies are replayed")
		rateLimit    = flag.Float64("rate-limit", 0, "Requests per second per client, 0 disables")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		logFormat    = flag.String("log-format", "json", "Log format: json or text")
	)
	flag.Parse()

	log, err := common.NewLogger(common.LogConfig{Level: *logLevel, Format: *logFormat})
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	l := ledger.NewMemoryLedger(clock.NewDefaultClock())
	p := common.NewProvider(common.ProviderConfig{}, l, log.Logger)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               *listenAddr,
		MetricsAddr:              *metricsAddr,
		RateLimit:                *rateLimit,
		Log:                      log.Logger,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, provider.NewHandler(p, *replayWindow, log.Logger))
	if err != nil {
		fmt.Printf("Error creating server: %v\n", err)
		os.Exit(1)
	}

	srv.RunInBackground()
	<-ctx.Done()
	srv.Shutdown()
}
