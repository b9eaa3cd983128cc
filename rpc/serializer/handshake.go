package serializer

import (
	"encoding/binary"
	"io"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

// --------------------------------------------------------------------------
// Handshake Messages
// --------------------------------------------------------------------------

// Handshake is the first message a client sends on a new connection:
//
//	mode byte | version int16 | identity length int32 | identity
type Handshake struct {
	Mode     byte
	Version  common.Version
	ClientID string
}

// HandshakeReply is the server's answer to a Handshake:
//
//	code byte | version int16        (code = common.HandshakeOK)
//	code byte | reason length int32 | reason   (otherwise)
type HandshakeReply struct {
	Code    byte
	Version common.Version
	Reason  string
}

// Accepted reports whether the server accepted the handshake
func (r *HandshakeReply) Accepted() bool {
	return r.Code == common.HandshakeOK
}

// Err converts a rejecting reply into a *common.HandshakeError, nil if accepted
func (r *HandshakeReply) Err() error {
	if r.Accepted() {
		return nil
	}
	return &common.HandshakeError{Code: r.Code, Reason: r.Reason}
}

// --------------------------------------------------------------------------
// Handshake Codec
// --------------------------------------------------------------------------

// WriteHandshake writes the client handshake
func WriteHandshake(w io.Writer, hs Handshake) error {
	buf := make([]byte, 7+len(hs.ClientID))
	buf[0] = hs.Mode
	binary.BigEndian.PutUint16(buf[1:3], uint16(hs.Version))
	binary.BigEndian.PutUint32(buf[3:7], uint32(int32(len(hs.ClientID))))
	copy(buf[7:], hs.ClientID)
	if _, err := w.Write(buf); err != nil {
		return &common.IOError{Op: "write handshake", Err: err}
	}
	return nil
}

// ReadHandshake reads a client handshake. The identity is bounded by maxLength.
// Structural problems are reported as a *common.HandshakeError with code
// common.HandshakeInvalid. Validation of mode, version and identity is up to the caller.
func ReadHandshake(r io.Reader, maxLength int) (*Handshake, error) {
	var head [7]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, readError(err, "handshake")
	}

	hs := &Handshake{
		Mode:    head[0],
		Version: common.Version(int16(binary.BigEndian.Uint16(head[1:3]))),
	}

	length := int32(binary.BigEndian.Uint32(head[3:7]))
	if length < 0 || int(length) > maxLength {
		return hs, &common.HandshakeError{Code: common.HandshakeInvalid, Reason: "client identity length out of range"}
	}
	if length > 0 {
		id := make([]byte, length)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, readError(err, "handshake identity")
		}
		hs.ClientID = string(id)
	}
	return hs, nil
}

// WriteHandshakeReply writes the server's handshake reply
func WriteHandshakeReply(w io.Writer, reply HandshakeReply) error {
	var buf []byte
	if reply.Accepted() {
		buf = make([]byte, 3)
		buf[0] = reply.Code
		binary.BigEndian.PutUint16(buf[1:3], uint16(reply.Version))
	} else {
		buf = make([]byte, 5+len(reply.Reason))
		buf[0] = reply.Code
		binary.BigEndian.PutUint32(buf[1:5], uint32(int32(len(reply.Reason))))
		copy(buf[5:], reply.Reason)
	}
	if _, err := w.Write(buf); err != nil {
		return &common.IOError{Op: "write handshake reply", Err: err}
	}
	return nil
}

// ReadHandshakeReply reads the server's handshake reply
func ReadHandshakeReply(r io.Reader, maxLength int) (*HandshakeReply, error) {
	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return nil, readError(err, "handshake reply")
	}
	reply := &HandshakeReply{Code: code[0]}

	switch reply.Code {
	case common.HandshakeOK:
		var v [2]byte
		if _, err := io.ReadFull(r, v[:]); err != nil {
			return nil, readError(err, "handshake reply")
		}
		reply.Version = common.Version(int16(binary.BigEndian.Uint16(v[:])))
		return reply, nil

	case common.HandshakeRefused, common.HandshakeInvalid:
		var l [4]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return nil, readError(err, "handshake reply")
		}
		length := int32(binary.BigEndian.Uint32(l[:]))
		if length < 0 || int(length) > maxLength {
			return nil, common.NewFramingError("handshake reason length %d out of range", length)
		}
		reason := make([]byte, length)
		if _, err := io.ReadFull(r, reason); err != nil {
			return nil, readError(err, "handshake reason")
		}
		reply.Reason = string(reason)
		return reply, nil

	default:
		return nil, common.NewFramingError("unknown handshake reply code %d", reply.Code)
	}
}
