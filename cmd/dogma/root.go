package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/version"
)

var (
	serverURL     string
	principal     string
	jsonOutput    bool
	cfgFilePath   string
	verboseErrors bool
)

var rootCmd = &cobra.Command{
	Use:     "dogma",
	Short:   "A highly-available, versioned configuration repository client and server",
	Version: version.Version,
	Long: `dogma is the CLI for a configuration repository service: projects hold
repositories, repositories hold a revision-versioned tree of JSON/text
entries, and every mutation is an atomic, numbered commit.

Most subcommands talk to a running server over HTTP (--server). The
"serve" subcommand runs the server itself in this process instead.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:36462", "base URL of the dogma server")
	rootCmd.PersistentFlags().StringVar(&principal, "as", "", "principal recorded as the author of commits this invocation makes")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of human-readable text")
	rootCmd.PersistentFlags().StringVar(&cfgFilePath, "config", "", "accepted but not read; serve finds dogma.yaml by searching the working directory and its parents, the user config dir, then ~/.dogma")
	rootCmd.PersistentFlags().BoolVar(&verboseErrors, "verbose-errors", false, "include a stack field on server error responses")
}

// Execute runs the CLI and maps the outcome to an exit code: 0 success,
// 1 client error, 2 server error, 3 conflict.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	os.Exit(classifyExit(err))
}

func classifyExit(err error) int {
	var ae *apiError
	if as, ok := err.(*apiError); ok {
		ae = as
	}
	if ae == nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	fmt.Fprintln(os.Stderr, "Error:", ae.Error())
	switch {
	case ae.Status == 409:
		return 3
	case ae.Status >= 500:
		return 2
	default:
		return 1
	}
}

// newClient builds a Client from the persistent --server/--as flags.
func newClient() *Client {
	return dialClient(serverURL, principal)
}

func printResult(v interface{}, human func()) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	human()
}
