// Command veilctl provides operator tools for a veild deployment.
//
// # Commands
//
// keygen: Generate an Ed25519 approver key pair.
//
//	veilctl keygen
//
// approve: Sign a master viewing key export request.
//
//	veilctl approve --key-id=<id> --signing-key=<hex>
//
// token: Issue an API token.
//
//	veilctl token --secret-env=VEIL_JWT_SECRET --subject=ops --scope=operator
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fikriaf/ars-sub001/api/handlers"
	"github.com/fikriaf/ars-sub001/cmd/common"
	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/viewkey"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "keygen":
		err = runKeygen(args)
	case "approve":
		err = runApprove(args)
	case "token":
		err = runToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`veilctl - operator tools for veild

Usage:
  veilctl <command> [options]

Commands:
  keygen    Generate an approver key pair
  approve   Sign a master key export request
  token     Issue an API token

Run 'veilctl <command> --help' for command-specific options.`)
}

// splitArg accepts both "--name value" and "--name=value".
func splitArg(args []string, i int) (name, value string, next int) {
	name, value, ok := strings.Cut(args[i], "=")
	if ok {
		return name, value, i
	}
	if i+1 < len(args) {
		return name, args[i+1], i + 1
	}
	return name, "", i
}

// --- Keygen Command ---

func runKeygen(args []string) error {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			fmt.Println(`veilctl keygen - Generate an approver key pair

Prints the public key for viewing_keys.approvers and the private key for
'veilctl approve --signing-key'.`)
			return nil
		}
	}

	sk, err := common.LoadOrGenerateSigningKey("")
	if err != nil {
		return err
	}
	pk, err := sk.PublicKey()
	if err != nil {
		return err
	}
	fmt.Printf("public:  %s\n", pk.String())
	fmt.Printf("private: %s\n", hex.EncodeToString(sk.Bytes()))
	return nil
}

// --- Approve Command ---

func runApprove(args []string) error {
	var (
		keyID      string
		nonce      string
		issuedAt   time.Time
		signingKey = os.Getenv("VEIL_APPROVER_KEY")
	)

	for i := 0; i < len(args); i++ {
		if args[i] == "--help" || args[i] == "-h" {
			printApproveHelp()
			return nil
		}
		name, value, next := splitArg(args, i)
		i = next
		switch name {
		case "--key-id", "-k":
			keyID = value
		case "--nonce", "-n":
			nonce = value
		case "--issued-at":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return fmt.Errorf("--issued-at: %w", err)
			}
			issuedAt = t
		case "--signing-key", "-s":
			signingKey = value
		default:
			return fmt.Errorf("unknown option %s", name)
		}
	}

	if keyID == "" {
		return fmt.Errorf("--key-id is required")
	}
	if signingKey == "" {
		return fmt.Errorf("--signing-key or VEIL_APPROVER_KEY is required")
	}
	if nonce == "" {
		nonce = uuid.NewString()
	}
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC().Truncate(time.Second)
	}

	sk, err := common.LoadOrGenerateSigningKey(signingKey)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	defer crypto.Zero(sk)

	req := viewkey.AccessRequest{KeyID: keyID, Nonce: nonce, IssuedAt: issuedAt}
	approval, err := viewkey.SignAccess(sk, req)
	if err != nil {
		return err
	}

	out := struct {
		KeyID     string    `json:"keyId"`
		Nonce     string    `json:"nonce"`
		IssuedAt  time.Time `json:"issuedAt"`
		Approver  string    `json:"approver"`
		Signature string    `json:"signature"`
	}{keyID, nonce, issuedAt, approval.Approver.String(), approval.Signature.String()}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printApproveHelp() {
	fmt.Println(`veilctl approve - Sign a master key export request

Every approver signs the same key id, nonce and issue time. Share the nonce
and issue time printed by the first approver with the others.

Usage:
  veilctl approve --key-id=<id> --signing-key=<hex>
  veilctl approve --key-id=<id> --nonce=<nonce> --issued-at=<rfc3339>

Options:
  --key-id, -k        Master viewing key id (required)
  --nonce, -n         Request nonce (generated if empty)
  --issued-at         Request time, RFC3339 (now if empty)
  --signing-key, -s   Approver private key hex (or VEIL_APPROVER_KEY)`)
}

// --- Token Command ---

func runToken(args []string) error {
	var (
		secret  string
		issuer  = "veil"
		subject string
		scopes  []string
		ttl     = 24 * time.Hour
	)

	for i := 0; i < len(args); i++ {
		if args[i] == "--help" || args[i] == "-h" {
			printTokenHelp()
			return nil
		}
		name, value, next := splitArg(args, i)
		i = next
		switch name {
		case "--secret":
			secret = value
		case "--secret-env":
			secret = os.Getenv(value)
		case "--issuer":
			issuer = value
		case "--subject":
			subject = value
		case "--scope":
			scopes = append(scopes, value)
		case "--ttl":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("--ttl: %w", err)
			}
			ttl = d
		default:
			return fmt.Errorf("unknown option %s", name)
		}
	}

	if subject == "" {
		return fmt.Errorf("--subject is required")
	}
	if len(scopes) == 0 {
		scopes = []string{handlers.ScopeOperator}
	}

	auth, err := handlers.NewAuthenticator([]byte(secret), issuer, clock.NewDefaultClock())
	if err != nil {
		return err
	}
	token, err := auth.Issue(subject, ttl, scopes...)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printTokenHelp() {
	fmt.Println(`veilctl token - Issue an API token

Usage:
  veilctl token --secret-env=VEIL_JWT_SECRET --subject=<name> [--scope=operator]

Options:
  --secret            Signing secret, at least 32 bytes
  --secret-env        Environment variable holding the secret
  --issuer            Token issuer (default veil, must match auth.jwt_issuer)
  --subject           Token subject (required)
  --scope             operator or auditor, repeatable (default operator)
  --ttl               Token lifetime (default 24h)`)
}
