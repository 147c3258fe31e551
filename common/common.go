package common

// PackageName is used as the metrics namespace and in log attributes.
const PackageName = "veil"

// Version is set at build time with -ldflags "-X github.com/fikriaf/ars-sub001/common.Version=...".
var Version = "dev"
