package push

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

	"github.com/lydonator/rust-plus-web-sub002/config"
	"github.com/lydonator/rust-plus-web-sub002/internal/model"
)

func newRelay(t *testing.T, mux *http.ServeMux) (*httptest.Server, config.BackboneConfig) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, config.BackboneConfig{
		RegisterURL:   srv.URL + "/register",
		MintURL:       srv.URL + "/mint",
		ForwardingURL: srv.URL + "/forward",
		ListenURL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/listen",
		AppID:         "app",
		DeviceName:    "rustplus-web",
		Timeout:       2 * time.Second,
	}
}

func TestHTTPBackbone_RegisterMintForward(t *testing.T) {
	var forwarded map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "app", body["app_id"])
		assert.Equal(t, "pub", body["public_key"])
		json.NewEncoder(w).Encode(Registration{RegistrationID: "reg", SecurityToken: "sec", PushToken: "push"})
	})
	mux.HandleFunc("/mint", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AidLogin reg:sec", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "push", body["push_token"])
		json.NewEncoder(w).Encode(map[string]string{"forwarding_token": "fwd-" + body["auth_token"]})
	})
	mux.HandleFunc("/forward", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&forwarded))
		w.WriteHeader(http.StatusNoContent)
	})
	_, cfg := newRelay(t, mux)
	b := NewHTTPBackbone(cfg)
	ctx := context.Background()

	reg, err := b.Register(ctx, DeviceKeys{PublicKey: "pub", PrivateKey: "priv", AuthSecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, Registration{RegistrationID: "reg", SecurityToken: "sec", PushToken: "push"}, reg)

	identity := model.DeviceIdentity{RegistrationID: reg.RegistrationID, SecurityToken: reg.SecurityToken, PushToken: reg.PushToken}
	token, err := b.Mint(ctx, identity, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, "fwd-auth-1", token)

	require.NoError(t, b.RegisterForwarding(ctx, "auth-1", token))
	assert.Equal(t, "auth-1", forwarded["AuthToken"])
	assert.Equal(t, "fwd-auth-1", forwarded["PushToken"])
	assert.Equal(t, float64(pushKindRelay), forwarded["PushKind"])
}

func TestHTTPBackbone_ErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mint", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad credentials"}`))
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})
	_, cfg := newRelay(t, mux)
	b := NewHTTPBackbone(cfg)

	_, err := b.Mint(context.Background(), model.DeviceIdentity{}, "auth")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "bad credentials")

	_, err = b.Register(context.Background(), DeviceKeys{})
	assert.True(t, IsStatus(err, http.StatusBadGateway))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestHTTPBackbone_Listen(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/listen", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AidLogin reg:sec", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"delivery_id":"d-1","data":{"channelId":"pairing"}}`))
	})
	_, cfg := newRelay(t, mux)
	b := NewHTTPBackbone(cfg)

	var got []Delivery
	err := b.Listen(context.Background(), model.DeviceIdentity{RegistrationID: "reg", SecurityToken: "sec"}, func(d Delivery) {
		got = append(got, d)
	})
	require.Error(t, err, "a closed stream is reported to the caller")
	require.Len(t, got, 1)
	assert.Equal(t, "d-1", got[0].ID)
	assert.JSONEq(t, `{"channelId":"pairing"}`, string(got[0].Payload))
}

func TestHTTPBackbone_ListenStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/listen", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.ReadMessage()
	})
	_, cfg := newRelay(t, mux)
	b := NewHTTPBackbone(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	err := b.Listen(ctx, model.DeviceIdentity{}, func(Delivery) {})
	assert.ErrorIs(t, err, context.Canceled)
}
