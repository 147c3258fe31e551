// Package provider defines the cryptography provider contract used by the
// privacy subsystem and ships three implementations of it:
//
//   - LocalProvider performs the math in process. Stealth addresses use
//     secp256k1 with view tags, commitments are Pedersen commitments on
//     BN254 G1, and viewing keys are derived with HKDF-SHA256.
//   - HTTPProvider calls a remote provider, forwarding idempotency keys
//     attached with WithIdempotencyKey.
//   - Handler serves any CryptoProvider over HTTP.
package provider
