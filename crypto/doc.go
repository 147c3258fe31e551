// Package crypto provides the cryptographic primitives used by the privacy
// subsystem.
//
//   - Vault: encryption at rest for private key material. Keys are derived
//     per identity with PBKDF2-SHA256 and secrets are sealed with AES-256-GCM.
//     Every failure to open a blob is reported as ErrDecryptionFailed.
//   - Seal/Open: AES-256-GCM under keys expanded with HKDF, used for
//     disclosure payloads scoped to a viewing key.
//   - Ed25519 keys and signatures used by approvers of privileged actions.
//
// Derived keys are never cached. Callers holding secret bytes should release
// them with Zero once done.
package crypto
