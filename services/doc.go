/*
# Veil Services Package

The services package wires the privacy components into one Subsystem that
shares a store, a cryptography provider and a key vault.

## Components

1. **Stealth Registry** (`stealth`)
  - One active meta-address per agent, private keys sealed by the vault
  - Rotation keeps retired key sets for ownership checks

2. **Payment Scanner** (`scanner`)
  - Periodic cycles over every registered agent
  - Per-agent slot watermark, bounded retries, events to the log, the
    websocket Hub and any extra notifiers

3. **Commitment Engine** (`commitment`)
  - Pedersen commitments with homomorphic add and subtract

4. **Privacy Monitor** (`privacyscore`)
  - Address scoring against a runtime threshold, alerts to sinks

5. **Swap Orchestrator** (`swap`)
  - Privacy gate, commitment, venue submit, stealth claim and MEV
    measurement recorded step by step

6. **Viewing Keys** (`viewkey`)
  - Hierarchical keys with roles and expiry, k-of-N approval for master
    key export

7. **Disclosures** (`disclosure`)
  - Viewing-key scoped transaction disclosure with risk scoring and
    compliance reports

## Usage

	sys, err := services.New(services.Config{
	    StrictPrivacy: true,
	    Approvals:     policy,
	}, services.Deps{
	    Provider: provider.NewLocalProvider(provider.LocalConfig{Announcements: l, History: l}),
	    Store:    store.NewMemoryStore(),
	    Vault:    crypto.NewVault(crypto.VaultConfig{}),
	    Venue:    l,
	    Claimer:  l,
	})
	go sys.Run(ctx)

Run blocks running scan cycles. ApplyPolicy changes the privacy threshold
and strict mode of a running Subsystem.

The `demo` subdirectory runs a full local deployment with simulated payers.
*/
package services
