package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fikriaf/ars-sub001/api/handlers"
	"github.com/fikriaf/ars-sub001/api/httpserver"
	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/ledger"
	"github.com/fikriaf/ars-sub001/provider"
	"github.com/fikriaf/ars-sub001/scanner"
	"github.com/fikriaf/ars-sub001/services"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/swap"
	"github.com/lightningnetwork/lnd/clock"
)

// OrchestratorConfig contains deployment configuration.
type OrchestratorConfig struct {
	NumAgents  int
	NumPayers  int
	PayerFunds uint64

	BasePort        int
	PaymentInterval time.Duration
	ScanInterval    time.Duration

	// SwapEvery runs a private swap for a random agent every n payments.
	// Zero disables swaps.
	SwapEvery int

	Strict bool
}

// Orchestrator runs a provider, a veil API and simulated payers in one
// process over a shared in-memory ledger.
type Orchestrator struct {
	config *OrchestratorConfig
	log    *slog.Logger

	ledger *ledger.MemoryLedger
	sys    *services.Subsystem

	providerServer *httpserver.BaseServer
	apiServer      *httpserver.BaseServer
	apiURL         string
	httpClient     *http.Client

	agents []string
	payers []string

	statsMu  sync.Mutex
	payments int
	swaps    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates a deployment orchestrator.
func NewOrchestrator(config *OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		config:     config,
		log:        slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		ledger:     ledger.NewMemoryLedger(clock.NewDefaultClock()),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Deploy starts the provider, the API and the payer loop.
func (o *Orchestrator) Deploy() error {
	fmt.Println("Starting veil deployment...")

	providerURL, err := o.deployProvider()
	if err != nil {
		return fmt.Errorf("deploy provider: %w", err)
	}

	if err := o.deployAPI(providerURL); err != nil {
		return fmt.Errorf("deploy api: %w", err)
	}

	if err := o.registerAgents(); err != nil {
		return fmt.Errorf("register agents: %w", err)
	}

	o.fundPayers()

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		if err := o.sys.Run(o.ctx); err != nil && o.ctx.Err() == nil {
			fmt.Printf("Scanner stopped: %v\n", err)
		}
	}()
	go func() {
		defer o.wg.Done()
		o.sendPayments()
	}()

	fmt.Printf("Deployment complete: provider + API, %d agents, %d payers\n", len(o.agents), len(o.payers))
	return nil
}

func (o *Orchestrator) deployProvider() (string, error) {
	addr := fmt.Sprintf("localhost:%d", o.config.BasePort-1)

	local := provider.NewLocalProvider(provider.LocalConfig{
		Announcements: o.ledger,
		History:       o.ledger,
		Log:           o.log,
	})
	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               addr,
		Log:                      o.log,
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, provider.NewHandler(local, time.Minute, o.log))
	if err != nil {
		return "", err
	}
	fmt.Printf("Starting provider on %s\n", addr)
	srv.RunInBackground()
	o.providerServer = srv

	time.Sleep(100 * time.Millisecond)
	return "http://" + addr, nil
}

func (o *Orchestrator) deployAPI(providerURL string) error {
	addr := fmt.Sprintf("localhost:%d", o.config.BasePort)
	o.apiURL = "http://" + addr

	hub := scanner.NewHub(nil, o.log)
	st := store.NewMemoryStore()
	sys, err := services.New(services.Config{
		Scanner:       scanner.Config{Interval: o.config.ScanInterval, Workers: 4},
		StrictPrivacy: o.config.Strict,
	}, services.Deps{
		Provider: provider.NewHTTPProvider(providerURL, 10*time.Second),
		Store:    st,
		Vault:    crypto.NewVault(crypto.VaultConfig{Log: o.log}),
		Venue:    o.ledger,
		Claimer:  o.ledger,
		Hub:      hub,
		Notifiers: []scanner.Notifier{scanner.NotifierFunc(func(_ context.Context, e scanner.Event) {
			if e.Kind == scanner.EventPaymentDetected && e.Payment != nil {
				fmt.Printf("  [scan] %s received %d at %s\n", e.AgentID, e.Payment.Amount, short(e.Payment.StealthAddress))
			}
		})},
		Log: o.log,
	})
	if err != nil {
		return err
	}
	o.sys = sys

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
		Log:         o.log,
	})
	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               addr,
		Log:                      o.log,
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, api)
	if err != nil {
		return err
	}
	fmt.Printf("Starting API on %s\n", addr)
	srv.RunInBackground()
	o.apiServer = srv

	time.Sleep(100 * time.Millisecond)
	return nil
}

func (o *Orchestrator) registerAgents() error {
	for i := 0; i < o.config.NumAgents; i++ {
		agentID := fmt.Sprintf("agent-%d", i)
		var meta provider.MetaAddress
		if err := o.post("/api/v1/agents/"+agentID+"/meta-address", nil, &meta); err != nil {
			return fmt.Errorf("%s: %w", agentID, err)
		}
		o.agents = append(o.agents, agentID)
		fmt.Printf("  %s meta-address spend=%s view=%s\n", agentID, short(meta.SpendPublicKey), short(meta.ViewPublicKey))
	}
	return nil
}

func (o *Orchestrator) fundPayers() {
	for i := 0; i < o.config.NumPayers; i++ {
		payer := fmt.Sprintf("Payer%d", i)
		o.ledger.Fund(payer, o.config.PayerFunds)
		o.payers = append(o.payers, payer)
	}
	o.ledger.SetRate("SOL", "USDC", 150)
	o.ledger.SetExtraction(10)
}

func (o *Orchestrator) sendPayments() {
	ticker := time.NewTicker(o.config.PaymentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if err := o.sendRandomPayment(); err != nil {
				fmt.Printf("Payment failed: %v\n", err)
				continue
			}
			o.statsMu.Lock()
			o.payments++
			n := o.payments
			o.statsMu.Unlock()

			if o.config.SwapEvery > 0 && n%o.config.SwapEvery == 0 {
				o.runSwap()
			}
		}
	}
}

// sendRandomPayment pays a random agent from a random payer through a
// stealth address obtained from the API.
func (o *Orchestrator) sendRandomPayment() error {
	agentID := o.agents[mrand.Intn(len(o.agents))]
	payer := o.payers[mrand.Intn(len(o.payers))]
	amount := uint64(1 + mrand.Intn(1000))

	var meta provider.MetaAddress
	if err := o.get("/api/v1/agents/"+agentID+"/meta-address", &meta); err != nil {
		return err
	}
	var addr provider.StealthAddress
	if err := o.post("/api/v1/stealth-address", meta, &addr); err != nil {
		return err
	}

	_, err := o.ledger.SendStealth(o.ctx, payer, ledger.Announcement{
		StealthAddress:     addr.Address,
		EphemeralPublicKey: addr.EphemeralPublicKey,
		ViewTag:            addr.ViewTag,
		Amount:             amount,
	})
	if err != nil {
		return err
	}
	o.ledger.AdvanceSlot()
	fmt.Printf("  [pay] %s -> %s: %d\n", payer, agentID, amount)
	return nil
}

func (o *Orchestrator) runSwap() {
	agentID := o.agents[mrand.Intn(len(o.agents))]
	payer := o.payers[mrand.Intn(len(o.payers))]

	rec, err := o.sys.Swaps.Execute(o.ctx, swap.Request{
		VaultID:      payer,
		VaultAddress: payer,
		AgentID:      agentID,
		InputMint:    "SOL",
		OutputMint:   "USDC",
		Amount:       uint64(10 + mrand.Intn(100)),
	})
	if err != nil {
		fmt.Printf("  [swap] failed: %v\n", err)
		return
	}
	o.statsMu.Lock()
	o.swaps++
	o.statsMu.Unlock()
	fmt.Printf("  [swap] %s %d SOL -> %d USDC for %s (privacy %d, mev %.2f)\n",
		short(rec.ID), rec.Amount, rec.OutputAmount, agentID, rec.PrivacyScore, rec.MEVExtracted)
}

func (o *Orchestrator) get(path string, out any) error {
	resp, err := o.httpClient.Get(o.apiURL + path)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (o *Orchestrator) post(path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := o.httpClient.Post(o.apiURL+path, "application/json", body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12] + "..."
	}
	return s
}

// Stats returns the number of payments sent and swaps completed.
func (o *Orchestrator) Stats() (payments, swaps int) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.payments, o.swaps
}

// Shutdown stops the payer loop, the scanner and both servers.
func (o *Orchestrator) Shutdown() error {
	fmt.Println("Shutting down deployment...")
	o.cancel()
	o.wg.Wait()

	o.apiServer.Shutdown()
	o.providerServer.Shutdown()
	return nil
}
