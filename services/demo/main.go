package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	config := &OrchestratorConfig{}
	flag.IntVar(&config.NumAgents, "agents", 5, "Number of receiving agents")
	flag.IntVar(&config.NumPayers, "payers", 3, "Number of paying accounts")
	flag.Uint64Var(&config.PayerFunds, "funds", 1_000_000, "Initial balance of every payer")
	flag.IntVar(&config.BasePort, "base-port", 8000, "API port; the provider listens on base-port - 1")
	flag.DurationVar(&config.PaymentInterval, "payment-interval", 2*time.Second, "Time between stealth payments")
	flag.DurationVar(&config.ScanInterval, "scan-interval", 5*time.Second, "Time between scan cycles")
	flag.IntVar(&config.SwapEvery, "swap-every", 5, "Run a private swap every n payments, 0 disables")
	flag.BoolVar(&config.Strict, "strict", false, "Refuse swaps below the privacy threshold")
	flag.Parse()

	orchestrator := NewOrchestrator(config)

	if err := orchestrator.Deploy(); err != nil {
		fmt.Printf("Deployment failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nVeil deployment running...")
	fmt.Println("Configuration:")
	fmt.Printf("  Agents: %d\n", config.NumAgents)
	fmt.Printf("  Payers: %d\n", config.NumPayers)
	fmt.Printf("  Payment interval: %v\n", config.PaymentInterval)
	fmt.Printf("  Scan interval: %v\n", config.ScanInterval)
	fmt.Printf("  Events: ws://localhost:%d/api/v1/events\n", config.BasePort)
	fmt.Println("\nPress Ctrl+C to shutdown...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	if err := orchestrator.Shutdown(); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}

	payments, swaps := orchestrator.Stats()
	fmt.Printf("Deployment stopped after %d payments and %d swaps.\n", payments, swaps)
}
