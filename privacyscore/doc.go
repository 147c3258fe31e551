// Package privacyscore tracks a 0-100 privacy posture score per address.
// Scores come from the cryptography provider, are kept as an append-only
// series and raise operator alerts when they fall below a threshold.
package privacyscore
