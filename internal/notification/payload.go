package notification

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/lydonator/rust-plus-web-sub002/internal/parse"
	"github.com/lydonator/rust-plus-web-sub002/internal/push"
)

// Kind tags a classified delivery.
type Kind string

const (
	KindPairing Kind = "pairing"
	KindGeneric Kind = "generic"
)

// Event is a validated delivery. Exactly one of Pairing and Generic is set.
type Event struct {
	DeliveryID string
	PlayerID   int64
	Pairing    *Pairing
	Generic    *Generic
}

// Kind reports which variant e carries.
func (e Event) Kind() Kind {
	if e.Pairing != nil {
		return KindPairing
	}
	return KindGeneric
}

// Pairing authorises this service to connect to a server.
type Pairing struct {
	Host        string
	Port        int
	PlayerID    int64
	PlayerToken int32
	Name        string
}

// Generic is a user-visible notification.
type Generic struct {
	Title string
	Body  string
	Raw   string
}

// MalformedPayloadError reports a delivery that cannot be acted on.
type MalformedPayloadError struct {
	DeliveryID string
	Kind       Kind
	Field      string
	Reason     string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload %s: %s: %s", e.Kind, e.DeliveryID, e.Field, e.Reason)
}

// Classify validates a raw delivery into an Event. The payload is the relay
// data object; its body is an object or a JSON encoded string of one.
// Pairing bodies of type "entity" pair a device, not a server, and are
// treated as generic notifications.
func Classify(d push.Delivery) (Event, error) {
	if !gjson.ValidBytes(d.Payload) {
		return Event{}, &MalformedPayloadError{DeliveryID: d.ID, Kind: KindGeneric, Field: "payload", Reason: "invalid JSON"}
	}
	data := gjson.ParseBytes(d.Payload)
	body := data.Get("body")
	if body.Type == gjson.String {
		body = gjson.Parse(body.String())
	}

	kind := KindGeneric
	if data.Get("channelId").String() == "pairing" && body.Get("type").String() != "entity" {
		kind = KindPairing
	}
	malformed := func(field, reason string) error {
		return &MalformedPayloadError{DeliveryID: d.ID, Kind: kind, Field: field, Reason: reason}
	}

	rawPlayerID := body.Get("playerId")
	if !rawPlayerID.Exists() {
		rawPlayerID = data.Get("playerId")
	}
	if !rawPlayerID.Exists() {
		return Event{}, malformed("playerId", "missing")
	}
	playerID, err := parse.PlayerID(rawPlayerID.String())
	if err != nil {
		return Event{}, malformed("playerId", err.Error())
	}

	ev := Event{DeliveryID: d.ID, PlayerID: playerID}
	if kind == KindGeneric {
		ev.Generic = &Generic{
			Title: data.Get("title").String(),
			Body:  data.Get("message").String(),
			Raw:   string(d.Payload),
		}
		return ev, nil
	}

	for _, field := range []string{"ip", "port", "playerToken"} {
		if v := body.Get(field); !v.Exists() || v.String() == "" {
			return Event{}, malformed(field, "missing")
		}
	}
	host, err := parse.Host(body.Get("ip").String())
	if err != nil {
		return Event{}, malformed("ip", err.Error())
	}
	port, err := parse.Port(body.Get("port").String())
	if err != nil {
		return Event{}, malformed("port", err.Error())
	}
	token, err := parse.PlayerToken(body.Get("playerToken").String())
	if err != nil {
		return Event{}, malformed("playerToken", err.Error())
	}
	ev.Pairing = &Pairing{
		Host:        host,
		Port:        port,
		PlayerID:    playerID,
		PlayerToken: token,
		Name:        body.Get("name").String(),
	}
	return ev, nil
}
