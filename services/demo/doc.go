// Command demo runs a complete local veil deployment for testing and
// development.
//
// The demo orchestrator starts all components in a single process:
//   - A cryptography provider served over HTTP
//   - The veil API using that provider through its HTTP client
//   - A set of agents, each registered with a stealth meta-address
//   - Payers that send stealth payments to random agents
//
// Payments are settled on an in-memory ledger shared by the provider and
// the swap orchestrator. The scanner detects them on its next cycle and
// prints each one; every few payments a private swap is executed for a
// random agent.
//
// # Usage
//
//	go run ./services/demo [flags]
//
// # Flags
//
//	--agents            Number of receiving agents (default: 5)
//	--payers            Number of paying accounts (default: 3)
//	--funds             Initial balance of every payer (default: 1000000)
//	--base-port         API port, provider on base-port - 1 (default: 8000)
//	--payment-interval  Time between payments (default: 2s)
//	--scan-interval     Time between scan cycles (default: 5s)
//	--swap-every        Swap every n payments, 0 disables (default: 5)
//	--strict            Refuse swaps below the privacy threshold
package main
