package main

import (
	"errors"
	"fmt"

	"github.com/hadijannat/basyx-opcua-bridge/internal/config"
)

// fatalOpcUaAuthError and fatalAasAuthError mark the two preflight
// failures that abort startup outright rather than being left to the
// Connection Pool's or AAS Client's own reconnect loop: bad credentials
// are not a transient unavailability, they are a permanent
// misconfiguration indistinguishable in effect from a bad config file.
type fatalOpcUaAuthError struct {
	Endpoint string
	Err      error
}

func (e *fatalOpcUaAuthError) Error() string {
	return fmt.Sprintf("opc ua endpoint %q rejected credentials: %v", e.Endpoint, e.Err)
}

func (e *fatalOpcUaAuthError) Unwrap() error { return e.Err }

type fatalAasAuthError struct {
	Err error
}

func (e *fatalAasAuthError) Error() string {
	return fmt.Sprintf("aas repository rejected credentials: %v", e.Err)
}

func (e *fatalAasAuthError) Unwrap() error { return e.Err }

func classifyExit(err error) int {
	var cerr *config.ConfigError
	if errors.As(err, &cerr) {
		return exitConfigInvalid
	}
	var opcAuth *fatalOpcUaAuthError
	if errors.As(err, &opcAuth) {
		return exitOpcUaAuth
	}
	var aasAuth *fatalAasAuthError
	if errors.As(err, &aasAuth) {
		return exitAasAuth
	}
	return exitConfigInvalid
}
