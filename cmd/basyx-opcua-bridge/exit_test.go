package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/config"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

func TestClassifyExitConfigError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &config.ConfigError{Field: "opcua.endpoints", Msg: "is required"})
	require.Equal(t, exitConfigInvalid, classifyExit(err))
}

func TestClassifyExitOpcUaAuthError(t *testing.T) {
	err := &fatalOpcUaAuthError{
		Endpoint: "plc1",
		Err:      opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateSession, opcuaproto.StatusBadUserAccessDenied, "rejected"),
	}
	require.Equal(t, exitOpcUaAuth, classifyExit(err))
}

func TestClassifyExitAasAuthError(t *testing.T) {
	err := &fatalAasAuthError{Err: &aasclient.HTTPError{Kind: aasclient.HTTPPermanentClient, StatusCode: 401}}
	require.Equal(t, exitAasAuth, classifyExit(err))
}

func TestClassifyExitUnknownErrorDefaultsToConfigInvalid(t *testing.T) {
	require.Equal(t, exitConfigInvalid, classifyExit(fmt.Errorf("something unexpected")))
}
