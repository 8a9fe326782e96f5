package rdmnet

import "encoding/binary"

// DrainResult is the outcome of a single FrameBuffer.Drain call.
type DrainResult int

const (
	// NeedMore indicates the buffered bytes do not yet contain a full
	// PDU; the caller must feed more bytes before draining again.
	NeedMore DrainResult = iota
	// Ready indicates Drain produced a complete PDU.
	Ready
	// FrameError indicates the buffered bytes are malformed beyond
	// recovery (a root or Broker length field that is too short or that
	// disagrees with the other); the connection should transition as a
	// protocol error. Drain does not check vectors: a PDU with any root or
	// Broker vector is returned as Ready.
	FrameError
)

// FrameBuffer incrementally reassembles the RDMnet PDU stream from raw
// byte chunks delivered by the Poll Dispatcher. It is not safe for
// concurrent use; callers serialize access via the owning Connection's
// mutex.
type FrameBuffer struct {
	buf []byte
}

// Feed appends new bytes to the buffer. Feeding a nil or empty slice is
// valid and leaves the buffer unchanged. Parsing happens only in Drain; a
// caller drains multiple PDUs out of one recv() chunk by feeding once
// with fresh bytes, then calling Drain in a loop until NeedMore.
func (f *FrameBuffer) Feed(b []byte) {
	if len(b) == 0 {
		return
	}
	f.buf = append(f.buf, b...)
}

// Drain attempts to parse a single complete PDU from the buffered bytes.
// It returns at most one PDU per call.
func (f *FrameBuffer) Drain() (PDU, DrainResult, error) {
	if len(f.buf) < rootLayerHeaderSize {
		return PDU{}, NeedMore, nil
	}

	rootLen, err := decodeFlagsAndLength(f.buf[:flagsAndLengthSize])
	if err != nil {
		return PDU{}, FrameError, err
	}
	if rootLen < rootLayerHeaderSize {
		return PDU{}, FrameError, errMalformedLength(rootLen)
	}
	if len(f.buf) < rootLen {
		return PDU{}, NeedMore, nil
	}

	rootVector := binary.BigEndian.Uint32(f.buf[flagsAndLengthSize : flagsAndLengthSize+4])
	cid, err := CIDFromBytes(f.buf[flagsAndLengthSize+4 : rootLayerHeaderSize])
	if err != nil {
		return PDU{}, FrameError, err
	}

	sub := f.buf[rootLayerHeaderSize:rootLen]
	if len(sub) < brokerPduHeaderSize {
		return PDU{}, FrameError, errMalformedLength(rootLen)
	}
	brokerLen, err := decodeFlagsAndLength(sub[:flagsAndLengthSize])
	if err != nil {
		return PDU{}, FrameError, err
	}
	if brokerLen < brokerPduHeaderSize || brokerLen != len(sub) {
		return PDU{}, FrameError, errMalformedLength(brokerLen)
	}
	brokerVector := binary.BigEndian.Uint16(sub[flagsAndLengthSize : flagsAndLengthSize+2])
	data := sub[brokerPduHeaderSize:]

	pdu := PDU{
		RootVector:   rootVector,
		SenderCID:    cid,
		BrokerVector: brokerVector,
		Data:         append([]byte(nil), data...),
	}

	f.buf = f.buf[rootLen:]
	return pdu, Ready, nil
}

// Reset discards any buffered, partially-parsed bytes. Used when a
// connection resets after a protocol error or disconnect.
func (f *FrameBuffer) Reset() {
	f.buf = f.buf[:0]
}

// Pending reports the number of bytes currently buffered and unparsed.
func (f *FrameBuffer) Pending() int {
	return len(f.buf)
}

func errMalformedLength(n int) error {
	return &Error{Kind: KindProtocol, Code: CodeMalformedPDU, Message: "malformed PDU length field"}
}
