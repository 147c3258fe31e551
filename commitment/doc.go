// Package commitment implements the commitment engine: Pedersen
// commitments created through the cryptography provider, with blinding
// factors sealed by the Key Vault before they are stored. Combining two
// commitments yields a commitment to the sum (or difference) of their
// values, and batches are persisted all-or-nothing.
package commitment
