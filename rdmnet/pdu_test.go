package rdmnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeNullRoundTrips(t *testing.T) {
	cid := NewCID()
	raw := EncodeNull(cid)

	var fb FrameBuffer
	fb.Feed(raw)
	pdu, result, err := fb.Drain()

	require.NoError(t, err)
	assert.Equal(t, Ready, result)
	assert.Equal(t, VectorBrokerNull, pdu.BrokerVector)
	assert.Equal(t, cid, pdu.SenderCID)
	assert.Empty(t, pdu.Data)
	assert.Equal(t, 0, fb.Pending())
}

func TestEncodeDecodeClientConnectRoundTrips(t *testing.T) {
	cid := NewCID()
	raw := EncodeClientConnect(cid, ClientConnectData{Scope: "default"})

	var fb FrameBuffer
	fb.Feed(raw)
	pdu, result, err := fb.Drain()

	require.NoError(t, err)
	assert.Equal(t, Ready, result)
	assert.Equal(t, VectorBrokerConnect, pdu.BrokerVector)
	assert.Equal(t, "default", string(pdu.Data[2:]))
}

func TestEncodeDecodeDisconnectRoundTrips(t *testing.T) {
	cid := NewCID()
	raw := EncodeDisconnect(cid, ReasonShutdown)

	var fb FrameBuffer
	fb.Feed(raw)
	pdu, result, err := fb.Drain()

	require.NoError(t, err)
	assert.Equal(t, Ready, result)
	reason, err := decodeDisconnect(pdu.Data)
	require.NoError(t, err)
	assert.Equal(t, ReasonShutdown, reason)
}

func TestDecodeConnectReplyParsesFixedFields(t *testing.T) {
	payload := make([]byte, 14)
	payload[1] = byte(ConnectOK)
	payload[2], payload[3], payload[4], payload[5], payload[6], payload[7] = 0, 0, 0, 0, 0x12, 0x34
	payload[8], payload[9], payload[10], payload[11], payload[12], payload[13] = 0, 0, 0, 0, 0x56, 0x78

	reply, err := decodeConnectReply(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(ConnectOK), reply.Status)
	assert.Equal(t, uint64(0x1234), reply.BrokerUID)
	assert.Equal(t, uint64(0x5678), reply.ClientUID)
}

func TestDecodeConnectReplyRejectsShortPayload(t *testing.T) {
	_, err := decodeConnectReply(make([]byte, 4))
	assert.Error(t, err)
}
