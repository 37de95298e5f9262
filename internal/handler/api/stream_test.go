package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "FluxDash/internal/domain/models"
	"FluxDash/internal/testutil"
)

func dialHub(t *testing.T, hub *StreamHub) *websocket.Conn {
	t.Helper()
	e := echo.New()
	hub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/flux"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStreamHubBroadcast(t *testing.T) {
	hub := NewStreamHub(nil, WithPingInterval(time.Second))
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	last := models.Observation{Time: testutil.Day(2024, 5, 1), ObservedFlux: testutil.F(180.4)}
	hub.Broadcast(models.SeriesEvent{Type: "series.refreshed", Dataset: "penticton_radio_flux", Count: 3, Added: 1, Last: &last})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.SeriesEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "series.refreshed", ev.Type)
	assert.Equal(t, 3, ev.Count)
	require.NotNil(t, ev.Last)
	assert.Equal(t, 180.4, *ev.Last.ObservedFlux)
}

func TestStreamHubDisconnect(t *testing.T) {
	hub := NewStreamHub(nil)
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamHubClose(t *testing.T) {
	hub := NewStreamHub(nil)
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Zero(t, hub.Len())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// broadcasting to a closed hub is a no-op
	hub.Broadcast(models.SeriesEvent{Type: "series.refreshed"})
}
