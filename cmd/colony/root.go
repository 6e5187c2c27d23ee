package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moltworks/colony/pkg/version"
)

// Exit codes for scripting against the CLI.
const (
	exitOK            = 0
	exitFailure       = 1
	exitBadArgs       = 2
	exitStoreDown     = 3
	exitConfigInvalid = 4
)

// exitError carries a specific process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

var rootCmd = &cobra.Command{
	Use:           "colony",
	Short:         "Autonomous agent runtime",
	Long:          "Colony runs a roster of LLM agents on cron schedules and interactive sessions,\nwith tiered model failover, spend accounting, and cascade prevention.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exitWith(exitBadArgs, err)
	})
	rootCmd.AddCommand(
		serveCmd(),
		reloadConfigCmd(),
		listCronsCmd(),
		triggerCronCmd(),
		endSessionCmd(),
		versionCmd(),
	)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}

// exactArgs is cobra.ExactArgs with the usage exit code attached.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return exitWith(exitBadArgs, err)
		}
		return nil
	}
}

// Execute runs the root command and maps errors to exit codes.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	os.Exit(exitFailure)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
