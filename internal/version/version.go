package version

// Version is the semantic version of the keyrelay build.
// Overridden at build time via -ldflags "-X keyrelay-go/internal/version.Version=...".
var Version = "dev"
