package rustplus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestUnmarshalMessage_SkipsUnknownFields(t *testing.T) {
	var info []byte
	info = protowire.AppendTag(info, infoName, protowire.BytesType)
	info = protowire.AppendString(info, "Rustafied")
	info = protowire.AppendTag(info, 99, protowire.VarintType)
	info = protowire.AppendVarint(info, 7)
	info = protowire.AppendTag(info, infoMap, protowire.BytesType)
	info = protowire.AppendString(info, "Procedural Map")
	info = protowire.AppendTag(info, 100, protowire.BytesType)
	info = protowire.AppendString(info, "nexus-zone")

	var resp []byte
	resp = protowire.AppendTag(resp, respSeq, protowire.VarintType)
	resp = protowire.AppendVarint(resp, 3)
	resp = protowire.AppendTag(resp, respInfo, protowire.BytesType)
	resp = protowire.AppendBytes(resp, info)

	var frame []byte
	frame = protowire.AppendTag(frame, msgResponse, protowire.BytesType)
	frame = protowire.AppendBytes(frame, resp)
	frame = protowire.AppendTag(frame, 42, protowire.Fixed64Type)
	frame = protowire.AppendFixed64(frame, 1)

	msg, err := UnmarshalMessage(frame)
	require.NoError(t, err)
	require.NotNil(t, msg.Response)
	assert.Equal(t, uint32(3), msg.Response.Seq)
	require.NotNil(t, msg.Response.Info)
	assert.Equal(t, "Rustafied", msg.Response.Info.Name)
	assert.Equal(t, "Procedural Map", msg.Response.Info.Map)
}

func TestUnmarshalMessage_PreviouslyRequiredFieldsMayBeAbsent(t *testing.T) {
	var info []byte
	info = protowire.AppendTag(info, infoName, protowire.BytesType)
	info = protowire.AppendString(info, "Vanilla")

	frame := MarshalMessage(AppMessage{})
	var resp []byte
	resp = protowire.AppendTag(resp, respSeq, protowire.VarintType)
	resp = protowire.AppendVarint(resp, 1)
	resp = protowire.AppendTag(resp, respInfo, protowire.BytesType)
	resp = protowire.AppendBytes(resp, info)
	frame = protowire.AppendTag(frame, msgResponse, protowire.BytesType)
	frame = protowire.AppendBytes(frame, resp)

	msg, err := UnmarshalMessage(frame)
	require.NoError(t, err)
	require.NotNil(t, msg.Response.Info)
	assert.Equal(t, "Vanilla", msg.Response.Info.Name)
	assert.Empty(t, msg.Response.Info.HeaderImage)
	assert.Zero(t, msg.Response.Info.MapSize)
}

func TestUnmarshalMessage_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		frame []byte
	}{
		{
			name:  "truncated tag",
			frame: []byte{0xff},
		},
		{
			name: "wrong wire type for known field",
			frame: func() []byte {
				var b []byte
				b = protowire.AppendTag(b, msgResponse, protowire.VarintType)
				return protowire.AppendVarint(b, 1)
			}(),
		},
		{
			name: "length overruns frame",
			frame: func() []byte {
				var b []byte
				b = protowire.AppendTag(b, msgResponse, protowire.BytesType)
				return protowire.AppendVarint(b, 50)
			}(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UnmarshalMessage(tc.frame)
			var de DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestMarshalRequest_CarriesCredentials(t *testing.T) {
	entity := uint32(77)
	frame := MarshalRequest(AppRequest{Seq: 9, PlayerID: 76561198000000000, PlayerToken: -12345, EntityID: &entity, Query: QueryTime})

	req, err := UnmarshalRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), req.Seq)
	assert.Equal(t, uint64(76561198000000000), req.PlayerID)
	assert.Equal(t, int32(-12345), req.PlayerToken)
	require.NotNil(t, req.EntityID)
	assert.Equal(t, uint32(77), *req.EntityID)
	assert.Equal(t, QueryTime, req.Query)
}
