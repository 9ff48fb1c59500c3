package opcuaclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaclient/opcuatest"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

func newConnectedTestClient(t *testing.T) (*Client, *opcuatest.Server) {
	t.Helper()
	srv := opcuatest.NewServer(t)
	c, err := NewClient(srv.Addr(), WithTimeout(2*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectAndActivateSession(ctx))
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, srv
}

func TestSubscriptionReceivesNotificationOnWrite(t *testing.T) {
	c, _ := newConnectedTestClient(t)
	ctx := context.Background()

	sub, err := c.CreateSubscription(ctx, WithPublishingInterval(50*time.Millisecond))
	require.NoError(t, err)

	node := opcuaproto.NewStringNodeID(2, "Temperature")
	_, err = sub.CreateMonitoredItems(ctx, []opcuaproto.MonitoredItemCreateRequest{
		{ItemToMonitor: opcuaproto.ReadValueID{NodeID: node, AttributeID: opcuaproto.AttributeValue}},
	})
	require.NoError(t, err)

	_, err = c.WriteValue(ctx, node, opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 55.0})
	require.NoError(t, err)

	select {
	case n := <-sub.Notifications():
		require.Equal(t, 55.0, n.Value.Value.Value)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSubscriptionDeleteClosesNotifications(t *testing.T) {
	c, _ := newConnectedTestClient(t)
	sub, err := c.CreateSubscription(context.Background())
	require.NoError(t, err)
	require.NoError(t, sub.Delete(context.Background()))

	_, open := <-sub.Notifications()
	require.False(t, open)
}
