package cmd

// Version is the application version.
// It is intended to be set at build time:
// go build -ldflags "-X github.com/pagelift/pagelift/cmd.Version=1.0.0"
var Version = "0.1.0"
