// Package stealth implements the stealth address registry: per-agent
// meta-addresses whose private keys are sealed by the Key Vault under the
// agent id, one-time address derivation, and ownership checks that never
// reveal whether decryption or the curve check failed.
package stealth
