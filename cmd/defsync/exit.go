package main

import (
	"errors"

	"github.com/dcshock/defsync/config"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1 // fatal pipeline error, unreachable service or rejected definitions
	exitConfig  = 2 // bad configuration or arguments
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCode maps err to a process exit code. Only errors explicitly tagged
// or matching config.ErrInvalid are configuration errors; everything else,
// including unreachable ledgers and brokers, is a runtime failure.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrInvalid) {
		return exitConfig
	}
	return exitFailure
}

// usageArgs tags argument validation errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withExit(exitConfig, check(cmd, args))
	}
}
