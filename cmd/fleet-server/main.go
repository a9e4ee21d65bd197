// Command fleet-server is the ATLAS fleet server: it ingests agent
// reports, derives alerts and status at read time, and serves the
// operator dashboard API.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/serverconfig"
	"github.com/atlasfleet/atlas/internal/serversupervisor"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "fleet-server",
		Short:         "ATLAS fleet server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&configPath, "config", "/etc/fleet-server/config.yaml", "path to the server config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fleet-server:", err)
		os.Exit(exitCode(err))
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := serverconfig.Load(configPath)
	if err != nil {
		return &startupError{code: 1, err: err}
	}

	log := fleetlog.New(fleetlog.Config{Level: cfg.LogLevel, File: cfg.LogFile})

	sup, err := serversupervisor.New(cfg, log)
	if err != nil {
		// New never binds a socket, so anything but a TLS failure is
		// config-class.
		code := 1
		if tlsOrBindCode(err) == 3 {
			code = 3
		}
		return &startupError{code: code, err: err}
	}

	if err := sup.Run(context.Background()); err != nil {
		return &startupError{code: tlsOrBindCode(err), err: err}
	}
	return nil
}

// startupError carries the exit code spec §6 assigns to each failure
// class: 1 config error, 2 bind error, 3 TLS error.
type startupError struct {
	code int
	err  error
}

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if se, ok := err.(*startupError); ok {
		return se.code
	}
	return 1
}

// tlsOrBindCode distinguishes a TLS certificate failure (exit 3) from a
// socket bind failure (exit 2) — both surface from serversupervisor.Run
// as plain wrapped errors, so this matches on the message the way the
// teacher's own CLI layer maps sentinel errors to process exit codes.
func tlsOrBindCode(err error) int {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "cert") || strings.Contains(msg, "tls") {
		return 3
	}
	return 2
}
