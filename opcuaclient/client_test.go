package opcuaclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaclient/opcuatest"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

func TestNewClientRejectsInconsistentSecurity(t *testing.T) {
	_, err := NewClient("opc.tcp://localhost:4840",
		WithSecurityMode(opcuaproto.MessageSecurityModeSign),
		WithSecurityPolicy(opcuaproto.SecurityPolicyNone),
	)
	require.Error(t, err)
}

func TestClientStateTransitionsWithoutServer(t *testing.T) {
	c, err := NewClient("127.0.0.1:0", WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, c.State())
	require.False(t, c.IsConnected())
}

func TestWriteThenReadRoundTripsThroughServer(t *testing.T) {
	srv := opcuatest.NewServer(t)

	c, err := NewClient(srv.Addr(), WithTimeout(2*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectAndActivateSession(ctx))
	defer c.Close(context.Background())

	node := opcuaproto.NewStringNodeID(2, "Temperature")
	status, err := c.WriteValue(ctx, node, opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 42.0})
	require.NoError(t, err)
	require.True(t, status.IsGood())

	dv, err := c.ReadValue(ctx, node)
	require.NoError(t, err)
	require.Equal(t, 42.0, dv.Value.Value)
}
