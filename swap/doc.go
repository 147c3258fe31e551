// Package swap orchestrates MEV-protected swaps. Each swap sends its output
// to a one-time stealth address, commits to the input amount, claims the
// proceeds back to the vault and records how much value the venue lost to
// adversarial ordering.
package swap
