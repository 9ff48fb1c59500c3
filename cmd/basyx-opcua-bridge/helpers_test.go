package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

func TestTrimOpcSchemeStripsPrefix(t *testing.T) {
	require.Equal(t, "plc1.local:4840", trimOpcScheme("opc.tcp://plc1.local:4840"))
}

func TestTrimOpcSchemeLeavesBareAddressUntouched(t *testing.T) {
	require.Equal(t, "plc1.local:4840", trimOpcScheme("plc1.local:4840"))
}

func TestAsOPCUAAuthErrorMatchesAccessDenied(t *testing.T) {
	err := opcuaproto.NewOPCUAError(opcuaproto.ServiceActivateSession, opcuaproto.StatusBadUserAccessDenied, "denied")
	oe, ok := asOPCUAAuthError(err)
	require.True(t, ok)
	require.Equal(t, opcuaproto.StatusBadUserAccessDenied, oe.Code)
}

func TestAsOPCUAAuthErrorIgnoresOtherFaults(t *testing.T) {
	err := opcuaproto.NewOPCUAError(opcuaproto.ServiceActivateSession, opcuaproto.StatusBadTimeout, "timeout")
	_, ok := asOPCUAAuthError(err)
	require.False(t, ok)
}

func TestAsOPCUAAuthErrorIgnoresNonOPCUAError(t *testing.T) {
	_, ok := asOPCUAAuthError(errors.New("boom"))
	require.False(t, ok)
}

func TestAsAasAuthErrorMatches401And403(t *testing.T) {
	for _, status := range []int{401, 403} {
		err := &aasclient.HTTPError{Kind: aasclient.HTTPPermanentClient, StatusCode: status}
		he, ok := asAasAuthError(err)
		require.True(t, ok)
		require.Equal(t, status, he.StatusCode)
	}
}

func TestAsAasAuthErrorIgnoresOtherStatuses(t *testing.T) {
	err := &aasclient.HTTPError{Kind: aasclient.HTTPServer, StatusCode: 503}
	_, ok := asAasAuthError(err)
	require.False(t, ok)
}

func TestAsAasAuthErrorIgnoresWrappedNonHTTPError(t *testing.T) {
	_, ok := asAasAuthError(fmt.Errorf("boom"))
	require.False(t, ok)
}
