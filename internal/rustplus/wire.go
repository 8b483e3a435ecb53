package rustplus

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// SchemaVersion identifies the field table below. Bump it when a field
// number or wire type changes.
const SchemaVersion = 2

// AppRequest field numbers.
const (
	reqSeq         protowire.Number = 1
	reqPlayerID    protowire.Number = 2
	reqPlayerToken protowire.Number = 3
	reqEntityID    protowire.Number = 4
	reqGetInfo     protowire.Number = 8
	reqGetTime     protowire.Number = 9
	reqGetTeamInfo protowire.Number = 11
)

// AppMessage / AppResponse / AppError field numbers.
const (
	msgResponse  protowire.Number = 1
	msgBroadcast protowire.Number = 2

	respSeq     protowire.Number = 1
	respSuccess protowire.Number = 4
	respError   protowire.Number = 5
	respInfo    protowire.Number = 6
	respTime    protowire.Number = 7

	errMessage protowire.Number = 1
)

// AppInfo field numbers.
const (
	infoName          protowire.Number = 1
	infoHeaderImage   protowire.Number = 2
	infoURL           protowire.Number = 3
	infoMap           protowire.Number = 4
	infoMapSize       protowire.Number = 5
	infoWipeTime      protowire.Number = 6
	infoPlayers       protowire.Number = 7
	infoMaxPlayers    protowire.Number = 8
	infoQueuedPlayers protowire.Number = 9
	infoSeed          protowire.Number = 10
	infoSalt          protowire.Number = 11
)

// AppTime field numbers.
const (
	timeDayLength protowire.Number = 1
	timeScale     protowire.Number = 2
	timeSunrise   protowire.Number = 3
	timeSunset    protowire.Number = 4
	timeNow       protowire.Number = 5
)

// Query selects the request body.
type Query int

const (
	QueryInfo Query = iota
	QueryTime
	QueryTeamInfo
)

// AppRequest is a client-to-server request.
type AppRequest struct {
	Seq         uint32
	PlayerID    uint64
	PlayerToken int32
	EntityID    *uint32
	Query       Query
}

// AppMessage is a server-to-client frame: either a response to a request or
// an unsolicited broadcast.
type AppMessage struct {
	Response  *AppResponse
	Broadcast []byte
}

// AppResponse answers the request with the same Seq.
type AppResponse struct {
	Seq     uint32
	Success bool
	Error   *AppError
	Info    *AppInfo
	Time    *AppTime
}

// AppError is a vendor protocol error carried in a response.
type AppError struct {
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("rustplus: server error: %s", e.Message)
}

// AppInfo is the server metadata returned by the info query.
type AppInfo struct {
	Name          string
	HeaderImage   string
	URL           string
	Map           string
	MapSize       uint32
	WipeTime      uint32
	Players       uint32
	MaxPlayers    uint32
	QueuedPlayers uint32
	Seed          uint32
	Salt          uint32
}

// AppTime is the in-game clock.
type AppTime struct {
	DayLengthMinutes float32
	TimeScale        float32
	Sunrise          float32
	Sunset           float32
	Time             float32
}

// DecodeError reports a frame that could not be parsed.
type DecodeError struct {
	Message string
	Field   protowire.Number
	Reason  string
}

func (e DecodeError) Error() string {
	if e.Field == 0 {
		return fmt.Sprintf("rustplus: decode %s: %s", e.Message, e.Reason)
	}
	return fmt.Sprintf("rustplus: decode %s field=%d: %s", e.Message, e.Field, e.Reason)
}

// MarshalRequest encodes req.
func MarshalRequest(req AppRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, reqSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.Seq))
	b = protowire.AppendTag(b, reqPlayerID, protowire.VarintType)
	b = protowire.AppendVarint(b, req.PlayerID)
	b = protowire.AppendTag(b, reqPlayerToken, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(req.PlayerToken)))
	if req.EntityID != nil {
		b = protowire.AppendTag(b, reqEntityID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*req.EntityID))
	}

	var body protowire.Number
	switch req.Query {
	case QueryTime:
		body = reqGetTime
	case QueryTeamInfo:
		body = reqGetTeamInfo
	default:
		body = reqGetInfo
	}
	b = protowire.AppendTag(b, body, protowire.BytesType)
	b = protowire.AppendBytes(b, nil)
	return b
}

// UnmarshalRequest decodes a request. Used by test servers.
func UnmarshalRequest(b []byte) (AppRequest, error) {
	var req AppRequest
	err := walk("AppRequest", b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case reqSeq:
			req.Seq = uint32(v.varint)
		case reqPlayerID:
			req.PlayerID = v.varint
		case reqPlayerToken:
			req.PlayerToken = int32(v.varint)
		case reqEntityID:
			id := uint32(v.varint)
			req.EntityID = &id
		case reqGetInfo:
			req.Query = QueryInfo
		case reqGetTime:
			req.Query = QueryTime
		case reqGetTeamInfo:
			req.Query = QueryTeamInfo
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		reqSeq: protowire.VarintType, reqPlayerID: protowire.VarintType,
		reqPlayerToken: protowire.VarintType, reqEntityID: protowire.VarintType,
		reqGetInfo: protowire.BytesType, reqGetTime: protowire.BytesType, reqGetTeamInfo: protowire.BytesType,
	})
	return req, err
}

// MarshalMessage encodes msg. Used by test servers.
func MarshalMessage(msg AppMessage) []byte {
	var b []byte
	if msg.Response != nil {
		b = protowire.AppendTag(b, msgResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalResponse(*msg.Response))
	}
	if msg.Broadcast != nil {
		b = protowire.AppendTag(b, msgBroadcast, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Broadcast)
	}
	return b
}

func marshalResponse(r AppResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, respSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Seq))
	if r.Success {
		b = protowire.AppendTag(b, respSuccess, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	}
	if r.Error != nil {
		var e []byte
		e = protowire.AppendTag(e, errMessage, protowire.BytesType)
		e = protowire.AppendString(e, r.Error.Message)
		b = protowire.AppendTag(b, respError, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	if r.Info != nil {
		b = protowire.AppendTag(b, respInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalInfo(*r.Info))
	}
	if r.Time != nil {
		var t []byte
		for _, f := range []struct {
			num protowire.Number
			v   float32
		}{
			{timeDayLength, r.Time.DayLengthMinutes},
			{timeScale, r.Time.TimeScale},
			{timeSunrise, r.Time.Sunrise},
			{timeSunset, r.Time.Sunset},
			{timeNow, r.Time.Time},
		} {
			t = protowire.AppendTag(t, f.num, protowire.Fixed32Type)
			t = protowire.AppendFixed32(t, math.Float32bits(f.v))
		}
		b = protowire.AppendTag(b, respTime, protowire.BytesType)
		b = protowire.AppendBytes(b, t)
	}
	return b
}

func marshalInfo(info AppInfo) []byte {
	var b []byte
	for _, f := range []struct {
		num protowire.Number
		v   string
	}{
		{infoName, info.Name},
		{infoHeaderImage, info.HeaderImage},
		{infoURL, info.URL},
		{infoMap, info.Map},
	} {
		if f.v == "" {
			continue
		}
		b = protowire.AppendTag(b, f.num, protowire.BytesType)
		b = protowire.AppendString(b, f.v)
	}
	for _, f := range []struct {
		num protowire.Number
		v   uint32
	}{
		{infoMapSize, info.MapSize},
		{infoWipeTime, info.WipeTime},
		{infoPlayers, info.Players},
		{infoMaxPlayers, info.MaxPlayers},
		{infoQueuedPlayers, info.QueuedPlayers},
		{infoSeed, info.Seed},
		{infoSalt, info.Salt},
	} {
		b = protowire.AppendTag(b, f.num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.v))
	}
	return b
}

// UnmarshalMessage decodes a server frame. Unknown fields are skipped and
// absent fields are left at their zero value.
func UnmarshalMessage(b []byte) (AppMessage, error) {
	var msg AppMessage
	err := walk("AppMessage", b, func(num protowire.Number, _ protowire.Type, v fieldValue) error {
		switch num {
		case msgResponse:
			resp, err := unmarshalResponse(v.bytes)
			if err != nil {
				return err
			}
			msg.Response = &resp
		case msgBroadcast:
			msg.Broadcast = append([]byte{}, v.bytes...)
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		msgResponse:  protowire.BytesType,
		msgBroadcast: protowire.BytesType,
	})
	return msg, err
}

func unmarshalResponse(b []byte) (AppResponse, error) {
	var resp AppResponse
	err := walk("AppResponse", b, func(num protowire.Number, _ protowire.Type, v fieldValue) error {
		switch num {
		case respSeq:
			resp.Seq = uint32(v.varint)
		case respSuccess:
			resp.Success = true
		case respError:
			e := &AppError{}
			if err := walk("AppError", v.bytes, func(n protowire.Number, _ protowire.Type, ev fieldValue) error {
				if n == errMessage {
					e.Message = string(ev.bytes)
				}
				return nil
			}, map[protowire.Number]protowire.Type{errMessage: protowire.BytesType}); err != nil {
				return err
			}
			resp.Error = e
		case respInfo:
			info, err := unmarshalInfo(v.bytes)
			if err != nil {
				return err
			}
			resp.Info = &info
		case respTime:
			t := &AppTime{}
			if err := walk("AppTime", v.bytes, func(n protowire.Number, _ protowire.Type, tv fieldValue) error {
				f := math.Float32frombits(tv.fixed32)
				switch n {
				case timeDayLength:
					t.DayLengthMinutes = f
				case timeScale:
					t.TimeScale = f
				case timeSunrise:
					t.Sunrise = f
				case timeSunset:
					t.Sunset = f
				case timeNow:
					t.Time = f
				}
				return nil
			}, map[protowire.Number]protowire.Type{
				timeDayLength: protowire.Fixed32Type, timeScale: protowire.Fixed32Type,
				timeSunrise: protowire.Fixed32Type, timeSunset: protowire.Fixed32Type, timeNow: protowire.Fixed32Type,
			}); err != nil {
				return err
			}
			resp.Time = t
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		respSeq:     protowire.VarintType,
		respSuccess: protowire.BytesType,
		respError:   protowire.BytesType,
		respInfo:    protowire.BytesType,
		respTime:    protowire.BytesType,
	})
	return resp, err
}

func unmarshalInfo(b []byte) (AppInfo, error) {
	var info AppInfo
	err := walk("AppInfo", b, func(num protowire.Number, _ protowire.Type, v fieldValue) error {
		switch num {
		case infoName:
			info.Name = string(v.bytes)
		case infoHeaderImage:
			info.HeaderImage = string(v.bytes)
		case infoURL:
			info.URL = string(v.bytes)
		case infoMap:
			info.Map = string(v.bytes)
		case infoMapSize:
			info.MapSize = uint32(v.varint)
		case infoWipeTime:
			info.WipeTime = uint32(v.varint)
		case infoPlayers:
			info.Players = uint32(v.varint)
		case infoMaxPlayers:
			info.MaxPlayers = uint32(v.varint)
		case infoQueuedPlayers:
			info.QueuedPlayers = uint32(v.varint)
		case infoSeed:
			info.Seed = uint32(v.varint)
		case infoSalt:
			info.Salt = uint32(v.varint)
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		infoName: protowire.BytesType, infoHeaderImage: protowire.BytesType,
		infoURL: protowire.BytesType, infoMap: protowire.BytesType,
		infoMapSize: protowire.VarintType, infoWipeTime: protowire.VarintType,
		infoPlayers: protowire.VarintType, infoMaxPlayers: protowire.VarintType,
		infoQueuedPlayers: protowire.VarintType, infoSeed: protowire.VarintType,
		infoSalt: protowire.VarintType,
	})
	return info, err
}

type fieldValue struct {
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// walk iterates the fields of one message. Known fields must arrive with the
// wire type listed in known; everything else is skipped.
func walk(message string, b []byte, visit func(protowire.Number, protowire.Type, fieldValue) error, known map[protowire.Number]protowire.Type) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return DecodeError{Message: message, Reason: protowire.ParseError(n).Error()}
		}
		b = b[n:]

		want, isKnown := known[num]
		if !isKnown {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return DecodeError{Message: message, Field: num, Reason: protowire.ParseError(n).Error()}
			}
			b = b[n:]
			continue
		}
		if typ != want {
			return DecodeError{Message: message, Field: num, Reason: fmt.Sprintf("wire type %d, want %d", typ, want)}
		}

		var v fieldValue
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			v.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return DecodeError{Message: message, Field: num, Reason: protowire.ParseError(n).Error()}
		}
		b = b[n:]

		if err := visit(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}
