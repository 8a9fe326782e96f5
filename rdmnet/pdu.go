package rdmnet

import (
	"encoding/binary"
	"fmt"
)

// flagsAndLengthSize is the size in bytes of the ACN "Flags & Length"
// field that opens every PDU: the top 4 bits of the first byte carry
// flags (0x7 selects the 3-octet length encoding used throughout this
// core), and the remaining 20 bits carry the PDU length measured from
// the start of this field to the end of the PDU, inclusive.
const flagsAndLengthSize = 3

const pduLengthFlags = 0x7 << 4

// rootLayerHeaderSize is flagsAndLength(3) + vector(4) + CID(16).
const rootLayerHeaderSize = flagsAndLengthSize + 4 + 16

// brokerPduHeaderSize is flagsAndLength(3) + vector(2).
const brokerPduHeaderSize = flagsAndLengthSize + 2

// PDU is a single decoded Broker-layer message: the ACN root layer vector
// and sender CID, the Broker sub-vector, and the sub-vector's payload.
type PDU struct {
	RootVector   uint32
	SenderCID    CID
	BrokerVector uint16
	Data         []byte
}

func encodeFlagsAndLength(length int) []byte {
	b := make([]byte, flagsAndLengthSize)
	v := uint32(length) & 0x000f_ffff
	v |= uint32(pduLengthFlags) << 16
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
	return b
}

func decodeFlagsAndLength(b []byte) (length int, err error) {
	if len(b) < flagsAndLengthSize {
		return 0, fmt.Errorf("rdmnet: short flags-and-length field")
	}
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	length = int(v & 0x000f_ffff)
	return length, nil
}

// EncodeNull builds the periodic heartbeat PDU: a Broker PDU with the
// Null vector and no payload, wrapped in the ACN root layer.
func EncodeNull(senderCID CID) []byte {
	return encodePDU(senderCID, VectorBrokerNull, nil)
}

// EncodeDisconnect builds a graceful-disconnect Broker PDU carrying the
// given reason code.
func EncodeDisconnect(senderCID CID, reason Reason) []byte {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(reason))
	return encodePDU(senderCID, VectorBrokerDisconnect, payload)
}

// EncodeClientConnect builds the handshake PDU sent on entering
// RDMnetConnPending.
func EncodeClientConnect(senderCID CID, data ClientConnectData) []byte {
	payload := make([]byte, 0, 2+len(data.Scope))
	scopeLen := make([]byte, 2)
	binary.BigEndian.PutUint16(scopeLen, uint16(len(data.Scope)))
	payload = append(payload, scopeLen...)
	payload = append(payload, []byte(data.Scope)...)
	return encodePDU(senderCID, VectorBrokerConnect, payload)
}

func encodePDU(senderCID CID, vector uint16, payload []byte) []byte {
	brokerLen := brokerPduHeaderSize + len(payload)
	rootLen := rootLayerHeaderSize + brokerLen

	buf := make([]byte, 0, rootLen)
	buf = append(buf, encodeFlagsAndLength(rootLen)...)
	rootVec := make([]byte, 4)
	binary.BigEndian.PutUint32(rootVec, RootVectorBroker)
	buf = append(buf, rootVec...)
	cidBytes := senderCID.Bytes()
	buf = append(buf, cidBytes[:]...)

	buf = append(buf, encodeFlagsAndLength(brokerLen)...)
	brokerVec := make([]byte, 2)
	binary.BigEndian.PutUint16(brokerVec, vector)
	buf = append(buf, brokerVec...)
	buf = append(buf, payload...)

	return buf
}

// ClientConnectData is the handshake payload sent in the ClientConnect
// Broker PDU. E1.33's full payload (client UID, entry type, binding CID)
// is out of scope per the spec's Non-goals around broker-side routing;
// Scope is the one field the state machine itself needs to originate a
// well-formed handshake.
type ClientConnectData struct {
	Scope string
}

// ConnectReply is the decoded payload of a VectorBrokerConnectReply PDU.
type ConnectReply struct {
	Status     uint16
	BrokerUID  uint64 // 48-bit RDM UID, manufacturer<<32|device in the low 48 bits
	ClientUID  uint64
}

// decodeConnectReply parses the fixed-format ConnectReply payload:
// 2-byte status, 6-byte broker UID, 6-byte client UID.
func decodeConnectReply(payload []byte) (ConnectReply, error) {
	if len(payload) < 14 {
		return ConnectReply{}, fmt.Errorf("rdmnet: short ConnectReply payload")
	}
	var r ConnectReply
	r.Status = binary.BigEndian.Uint16(payload[0:2])
	r.BrokerUID = uid48(payload[2:8])
	r.ClientUID = uid48(payload[8:14])
	return r, nil
}

func uid48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// decodeClientRedirect parses a ClientRedirect payload: 4-byte IPv4
// address followed by a 2-byte port (the IPv6 variant, VectorBrokerRedirectV6,
// uses a 16-byte address in the same layout and is decoded by the caller
// selecting on BrokerVector).
func decodeClientRedirect(payload []byte, v6 bool) (addr []byte, port uint16, err error) {
	addrLen := 4
	if v6 {
		addrLen = 16
	}
	if len(payload) < addrLen+2 {
		return nil, 0, fmt.Errorf("rdmnet: short ClientRedirect payload")
	}
	addr = payload[:addrLen]
	port = binary.BigEndian.Uint16(payload[addrLen : addrLen+2])
	return addr, port, nil
}

// decodeDisconnect parses a Disconnect payload: a 2-byte reason code.
func decodeDisconnect(payload []byte) (Reason, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("rdmnet: short Disconnect payload")
	}
	return Reason(binary.BigEndian.Uint16(payload[:2])), nil
}
