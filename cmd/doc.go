// Package cmd provides the commands of a veil deployment.
//
// # Commands
//
// veild: The privacy subsystem daemon. Serves the JSON API, streams scanner
// events over websocket and runs scan cycles.
//
//	go run ./cmd/veild --config=veil.yaml
//	go run ./cmd/veild --auth-disabled --log-format=text
//
// cryptod: Serves the cryptography provider over HTTP for veild instances
// started with --provider.
//
//	go run ./cmd/cryptod --listen-addr=:8070
//
// veilctl: Operator tools for approver keys, export approvals and API tokens.
//
//	go run ./cmd/veilctl keygen
//	go run ./cmd/veilctl approve --key-id=<id> --signing-key=<hex>
//	go run ./cmd/veilctl token --secret-env=VEIL_JWT_SECRET --subject=ops
//
// # Configuration
//
// veild reads a YAML configuration file via the --config flag.
// Command-line flags override config file values, and edits to the privacy
// section are applied while the daemon runs.
//
//	http:
//	  listen_addr: ":8080"
//	  rate_limit: 20
//	  cors_origins: ["https://console.example"]
//	privacy:
//	  threshold: 70
//	  strict: false
//	scanner:
//	  interval: 60s
//	  workers: 4
//	viewing_keys:
//	  approval_threshold: 2
//	  approvers: ["<hex>", "<hex>", "<hex>"]
//	store:
//	  driver: memory
//	auth:
//	  jwt_secret_env: VEIL_JWT_SECRET
//
// # Master Key Export
//
// Exporting a master viewing key requires approval_threshold signatures from
// the configured approvers over the same key id, nonce and issue time:
//
//	veilctl approve --key-id=$KEY > a1.json
//	veilctl approve --key-id=$KEY --nonce=$NONCE --issued-at=$TS --signing-key=$K2 > a2.json
//
// The approvals are then posted to /api/v1/viewing-keys/{id}/export.
package cmd
