package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapflow/internal/dispatch"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, r.URL.Query().Get("tenant"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?tenant=" + tenant
	before := hub.Clients(tenant)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Clients(tenant) == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHubDeliversToTenantOnly(t *testing.T) {
	hub, srv := startHub(t)
	acme := dial(t, hub, srv, "acme")
	other := dial(t, hub, srv, "other")

	hub.CampaignProgress("acme", dispatch.Progress{CampaignID: "c1", Status: "running", Total: 10, Sent: 3, Pending: 7})

	require.NoError(t, acme.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := acme.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type string            `json:"type"`
		Data dispatch.Progress `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, EventCampaignProgress, event.Type)
	assert.Equal(t, "c1", event.Data.CampaignID)
	assert.Equal(t, 3, event.Data.Sent)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestHubConnectionEvent(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, "acme")

	hub.ConnectionChanged("acme", "connected")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connection_update","data":{"status":"connected"}}`, string(raw))
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, "acme")

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients("acme") == 0 }, time.Second, 5*time.Millisecond)
}
