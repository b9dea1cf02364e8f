package main

import (
	"fmt"
	"os"

	"github.com/tillberg/autorestart"

	"github.com/soyeahso/courier/internal/cli"
)

func main() {
	// Restart when the binary is rebuilt; meant for local development.
	if os.Getenv("COURIER_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}
