package common

var (
	// Version is overridden at build time via -ldflags "-X ...common.Version=..."
	Version = "dev"

	// PackageName is used as the Prometheus namespace and default log service name.
	PackageName = "soulbox_vault"
)
