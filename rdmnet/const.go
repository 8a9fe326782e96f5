// Package rdmnet implements the connection core of the E1.33 (RDMnet)
// draft protocol: client<->broker TCP connection lifecycle, handle
// registry, message framing, and readiness-driven I/O.
package rdmnet

import "time"

const (
	// HeartbeatSendInterval is the interval at which a Null PDU is sent to
	// the broker to prove liveness (E133_TCP_HEARTBEAT_INTERVAL_SEC).
	HeartbeatSendInterval = 5 * time.Second

	// HeartbeatTimeout is the maximum time allowed between received PDUs
	// before a connection is considered dead (E133_HEARTBEAT_TIMEOUT_SEC).
	HeartbeatTimeout = 15 * time.Second

	// BackoffMin and BackoffMax bound the per-attempt random increment
	// added to the cumulative backoff interval.
	BackoffMin = 1000 * time.Millisecond
	BackoffMax = 5000 * time.Millisecond

	// BackoffCeiling is the clamp applied to the cumulative backoff
	// interval regardless of how many attempts have failed.
	BackoffCeiling = 30000 * time.Millisecond

	// DefaultRecvBufferSize matches the typical Ethernet MTU payload and
	// is the default chunk size passed to recv() by the poll dispatcher.
	DefaultRecvBufferSize = 1220
)

// ACN root layer and RDMnet/Broker PDU vectors.
const (
	// RootVectorBroker identifies an RDMnet Broker PDU inside the ACN root
	// layer PDU.
	RootVectorBroker uint32 = 0x0000_0003

	// Broker sub-protocol vectors. The core itself interprets Connect,
	// ConnectReply, the two Redirect vectors, Disconnect and Null; PDUs
	// with any other vector are passed to the application.
	VectorBrokerConnect       uint16 = 0x0001
	VectorBrokerConnectReply  uint16 = 0x0002
	VectorBrokerClientAdd     uint16 = 0x0003
	VectorBrokerClientRemove  uint16 = 0x0004
	VectorBrokerClientEntry   uint16 = 0x0005
	VectorBrokerRedirectV4    uint16 = 0x0006
	VectorBrokerRedirectV6    uint16 = 0x0007
	VectorBrokerFetchUid      uint16 = 0x0009
	VectorBrokerFetchUidReply uint16 = 0x000a
	VectorBrokerDisconnect    uint16 = 0x000c
	VectorBrokerNull          uint16 = 0x000d
)

// ConnectReply status codes (subset relevant to the handshake).
const (
	ConnectOK uint16 = 0x0000
)

// Disconnect / connect-failure reason codes surfaced verbatim on
// ConnectFailed/Disconnected callbacks.
type Reason uint16

const (
	ReasonRDMnetConnectFail Reason = 0
	ReasonScopeMismatch     Reason = 1
	ReasonCapacityExceeded  Reason = 2
	ReasonDuplicateUID      Reason = 3
	ReasonInvalidClientEntry Reason = 4
	ReasonInvalidUID        Reason = 5
	ReasonShutdown          Reason = 6
)

// acnRootLayerHeaderSize is the fixed size of the ACN root layer header
// (PDU length + vector + CID) the frame buffer must see before it can
// determine a PDU's total length.
const acnRootLayerHeaderSize = rootLayerHeaderSize
