package okx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bitspectre/surveil/internal/config"
)

// floodServer upgrades every request and writes the frame in a tight loop
// until the client hangs up.
func floodServer(t *testing.T, frame []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func swapInstrument() config.InstrumentConfig {
	return config.InstrumentConfig{
		ID:      "BTC-USDT-PERP",
		Type:    config.InstrumentPerpetual,
		Enabled: true,
		VenueSymbols: map[string]config.VenueSymbol{
			"okx": {Symbol: "BTC-USDT-SWAP", InstType: "SWAP"},
		},
	}
}

func TestDisconnect_ReturnsUnderLiveTraffic(t *testing.T) {
	frame := []byte(`{"arg":{"channel":"mark-price","instId":"BTC-USDT-SWAP"},"data":[{"markPx":"50000","ts":"1700000000000"}]}`)
	srv := floodServer(t, frame)
	defer srv.Close()

	a := NewAdapter(config.ExchangeConfig{
		WebSocket: config.WebSocketEndpoints{Public: wsURL(srv)},
	}, []config.InstrumentConfig{swapInstrument()})

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Subscribe([]string{"BTC-USDT-PERP"}))

	// let the read loop chew on mark-price frames, which take the adapter
	// mutex in the message callback
	time.Sleep(200 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		a.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnect did not return while frames were in flight")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	frame := []byte(`{"arg":{"channel":"mark-price","instId":"BTC-USDT-SWAP"},"data":[{"markPx":"50000","ts":"1700000000000"}]}`)
	srv := floodServer(t, frame)
	defer srv.Close()

	a := NewAdapter(config.ExchangeConfig{
		WebSocket: config.WebSocketEndpoints{Public: wsURL(srv)},
	}, []config.InstrumentConfig{swapInstrument()})

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Disconnect())
	require.NoError(t, a.Disconnect())
}
