package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/lydonator/rust-plus-web-sub002/config"
	"github.com/lydonator/rust-plus-web-sub002/internal/model"
)

// pushKindRelay tells the vendor to deliver through the relay.
const pushKindRelay = 3

// DeviceKeys is the locally generated key material sent at registration.
type DeviceKeys struct {
	PublicKey  string
	PrivateKey string
	AuthSecret string
}

// Registration is what the backbone hands back for a new device.
type Registration struct {
	RegistrationID string `json:"registration_id"`
	SecurityToken  string `json:"security_token"`
	PushToken      string `json:"push_token"`
}

// Delivery is one message from the listen stream.
type Delivery struct {
	ID      string
	Payload []byte
}

// Backbone is the third-party notification relay.
type Backbone interface {
	Register(ctx context.Context, keys DeviceKeys) (Registration, error)
	Mint(ctx context.Context, identity model.DeviceIdentity, vendorAuthToken string) (string, error)
	RegisterForwarding(ctx context.Context, vendorAuthToken, forwardingToken string) error
	// Listen streams deliveries to handle until the stream drops or ctx is done.
	Listen(ctx context.Context, identity model.DeviceIdentity, handle func(Delivery)) error
}

// HTTPBackbone talks to the relay over HTTPS and a websocket listen stream.
type HTTPBackbone struct {
	cfg        config.BackboneConfig
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewHTTPBackbone creates a backbone client from cfg.
func NewHTTPBackbone(cfg config.BackboneConfig) *HTTPBackbone {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBackbone{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

func authHeader(identity model.DeviceIdentity) string {
	return "AidLogin " + identity.RegistrationID + ":" + identity.SecurityToken
}

// Register registers a new device installation.
func (b *HTTPBackbone) Register(ctx context.Context, keys DeviceKeys) (Registration, error) {
	body := map[string]string{
		"app_id":      b.cfg.AppID,
		"device_name": b.cfg.DeviceName,
		"public_key":  keys.PublicKey,
		"auth_secret": keys.AuthSecret,
	}
	var reg Registration
	if err := b.doRequest(ctx, b.cfg.RegisterURL, "", body, &reg); err != nil {
		return Registration{}, fmt.Errorf("backbone.Register: %w", err)
	}
	if reg.RegistrationID == "" || reg.SecurityToken == "" {
		return Registration{}, fmt.Errorf("backbone.Register: incomplete registration in response")
	}
	return reg, nil
}

// Mint issues a forwarding token bound to identity for one vendor account.
func (b *HTTPBackbone) Mint(ctx context.Context, identity model.DeviceIdentity, vendorAuthToken string) (string, error) {
	body := map[string]string{
		"app_id":     b.cfg.AppID,
		"push_token": identity.PushToken,
		"auth_token": vendorAuthToken,
	}
	var out struct {
		ForwardingToken string `json:"forwarding_token"`
	}
	if err := b.doRequest(ctx, b.cfg.MintURL, authHeader(identity), body, &out); err != nil {
		return "", fmt.Errorf("backbone.Mint: %w", err)
	}
	if out.ForwardingToken == "" {
		return "", fmt.Errorf("backbone.Mint: empty forwarding token")
	}
	return out.ForwardingToken, nil
}

// RegisterForwarding tells the vendor to deliver the account's pushes to
// forwardingToken. Repeated calls supersede the previous registration.
func (b *HTTPBackbone) RegisterForwarding(ctx context.Context, vendorAuthToken, forwardingToken string) error {
	body := map[string]any{
		"AuthToken": vendorAuthToken,
		"DeviceId":  b.cfg.DeviceName,
		"PushKind":  pushKindRelay,
		"PushToken": forwardingToken,
	}
	if err := b.doRequest(ctx, b.cfg.ForwardingURL, "", body, nil); err != nil {
		return fmt.Errorf("backbone.RegisterForwarding: %w", err)
	}
	return nil
}

// Listen opens the listen stream. Frames are JSON objects carrying a
// delivery_id and a data object; frames without data are ignored.
func (b *HTTPBackbone) Listen(ctx context.Context, identity model.DeviceIdentity, handle func(Delivery)) error {
	header := http.Header{}
	header.Set("Authorization", authHeader(identity))
	conn, _, err := b.dialer.DialContext(ctx, b.cfg.ListenURL, header)
	if err != nil {
		return fmt.Errorf("backbone.Listen: dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("backbone.Listen: read: %w", err)
		}
		data := gjson.GetBytes(frame, "data")
		if !data.IsObject() {
			continue
		}
		handle(Delivery{
			ID:      gjson.GetBytes(frame, "delivery_id").String(),
			Payload: []byte(data.Raw),
		})
	}
}

func (b *HTTPBackbone) doRequest(ctx context.Context, url, auth string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		if msg := gjson.GetBytes(respBody, "error").String(); msg != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
