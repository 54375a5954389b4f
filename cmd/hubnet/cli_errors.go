// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jllopis/hubnet/pkg/errors"
)

// CLIError wraps HubnetError with a hint for the operator.
type CLIError struct {
	*errors.HubnetError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(he *errors.HubnetError, hint string) *CLIError {
	return &CLIError{HubnetError: he, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.HubnetError == nil {
		return "unknown error"
	}
	msg := e.HubnetError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the HubnetError.
func (e *CLIError) Unwrap() error {
	if e.HubnetError == nil {
		return nil
	}
	return e.HubnetError
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	he := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(he, hint)
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	he := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(he, "run 'hubnet help' for usage information")
}

// withHint attaches a hint matching the error code, if there is one.
func withHint(err error, target string) error {
	he, ok := errors.As(err)
	if !ok {
		return err
	}
	switch he.Code {
	case errors.CodeTransport:
		return NewCLIError(he, fmt.Sprintf("check that a hub is running at %s", target))
	case errors.CodeTimeout:
		return NewCLIError(he, "the hub did not answer in time; raise hub.peer_timeout_seconds or check its peers")
	case errors.CodeUnauthorized:
		return NewCLIError(he, "the hub only admits agents it knows; register this agent first")
	case errors.CodeAlreadyExists:
		return NewCLIError(he, "the agent is already registered from this address; use 'hubnet activate'")
	default:
		return err
	}
}

func printError(err error, asJSON bool) {
	if asJSON {
		code, msg, hint := errors.CodeInternal, err.Error(), ""
		if he, ok := errors.As(err); ok {
			code, msg = he.Code, he.Message
		}
		if ce, ok := err.(*CLIError); ok {
			hint = ce.Hint
		}
		_ = json.NewEncoder(os.Stderr).Encode(map[string]any{
			"error": map[string]any{"code": code, "message": msg, "hint": hint},
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
}
