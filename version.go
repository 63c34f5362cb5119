package concierge

// Version is overridden at build time with -ldflags "-X github.com/aretw0/concierge.Version=...".
var Version = "dev"
