// Package viewkey manages the hierarchy of viewing keys used for selective
// disclosure. Keys form a tree rooted at a master key (m/0 -> organization
// -> period -> sub-period); each node carries a role and an optional expiry.
// Exporting a master key requires k-of-N approver signatures.
package viewkey
