// Package disclosure implements selective disclosure of transfers to
// auditors. A disclosure carries the fields a role may see, sealed under a
// key derived from that role's viewing key, and expires after a fixed
// period. Compliance verification decrypts a disclosure and scores the
// transfer for risk.
package disclosure
