package version

// Version is the current version of pinq and pinq-server.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/kkrugley/pinq/internal/version.Version=v1.0.0'"
var Version = "dev"
