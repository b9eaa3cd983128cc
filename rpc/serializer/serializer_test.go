package serializer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

// testLimits keeps limits small so oversized frames are cheap to build
var testLimits = Limits{MaxParts: 16, MaxPartLength: 1024}

// sampleFields returns a value for every field name used by any layout
func sampleFields(t testing.TB) common.Fields {
	obj := func(v any) *common.Part {
		p, err := common.ObjectPart(v)
		if err != nil {
			t.Fatalf("Failed to encode object: %v", err)
		}
		return p
	}
	return common.Fields{
		common.FieldRegion:      common.StringPart("customers"),
		common.FieldOperation:   common.IntPart(int32(common.OpKindUpdate)),
		common.FieldFlags:       common.IntPart(common.PutRequireOldValue),
		common.FieldKey:         common.StringPart("id-1"),
		common.FieldIsDelta:     common.BoolPart(false),
		common.FieldValue:       obj(map[string]any{"name": "x", "n": int64(3)}),
		common.FieldOldValue:    common.NullObjectPart(),
		common.FieldEventID:     obj(common.EventID{ThreadID: 1, SequenceID: 99}),
		common.FieldCallbackArg: common.NullObjectPart(),
		common.FieldExisted:     common.BoolPart(true),
		common.FieldContains:    common.BoolPart(false),
		common.FieldSize:        common.IntPart(42),
	}
}

func messagesEqual(a, b *common.Message) bool {
	if a.OpCode != b.OpCode || a.TransactionID != b.TransactionID || a.Flags != b.Flags || a.NumParts() != b.NumParts() {
		return false
	}
	for i := range a.Parts {
		if !a.Parts[i].Equal(b.Parts[i]) {
			return false
		}
	}
	return true
}

// TestSerializerRoundTrip checks decode(encode(m)) == m for the request and
// reply of every opcode and version layout
func TestSerializerRoundTrip(t *testing.T) {
	s := NewBinarySerializer(testLimits)
	fields := sampleFields(t)

	for _, layout := range common.Layouts() {
		t.Run(layout.String(), func(t *testing.T) {
			req, err := layout.BuildRequest(fields)
			if err != nil {
				t.Fatalf("Failed to build request: %v", err)
			}
			req.TransactionID = 17
			req.Flags = common.FlagIsRetry

			reply, err := layout.BuildReply(17, fields)
			if err != nil {
				t.Fatalf("Failed to build reply: %v", err)
			}

			for name, msg := range map[string]*common.Message{"request": req, "reply": reply} {
				data, err := s.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize %s: %v", name, err)
					continue
				}

				var result common.Message
				if err := s.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize %s: %v", name, err)
					continue
				}

				if !messagesEqual(msg, &result) {
					t.Errorf("%s round trip mismatch:\nOriginal: %s\nResult: %s", name, msg, &result)
				}
			}

			decoded, err := s.ReadMessage(bytes.NewReader(mustSerialize(t, s, req)))
			if err != nil {
				t.Fatalf("Failed to read request: %v", err)
			}
			if _, err := layout.BindRequest(decoded); err != nil {
				t.Errorf("Decoded request does not bind to its layout: %v", err)
			}
		})
	}
}

func mustSerialize(t testing.TB, s IRPCSerializer, msg *common.Message) []byte {
	data, err := s.Serialize(msg)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	return data
}

// TestStreamOfFrames writes several frames back to back and reads them again
func TestStreamOfFrames(t *testing.T) {
	s := NewBinarySerializer(testLimits)

	msgs := []*common.Message{
		common.NewMessage(common.OpPing),
		common.NewMessage(common.OpSize, common.StringPart("r")),
		common.NewMessage(common.OpGet, common.StringPart("r"), common.StringPart("k")),
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		if err := s.WriteMessage(&buf, m); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	for i, want := range msgs {
		got, err := s.ReadMessage(&buf)
		if err != nil {
			t.Fatalf("Failed to read message %d: %v", i, err)
		}
		if !messagesEqual(want, got) {
			t.Errorf("Message %d mismatch: %s != %s", i, want, got)
		}
	}

	if _, err := s.ReadMessage(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

// frame builds a raw frame header followed by arbitrary bytes
func frame(op, partCount, tx, flags int32, rest ...byte) []byte {
	b := make([]byte, 16, 16+len(rest))
	binary.BigEndian.PutUint32(b[0:4], uint32(op))
	binary.BigEndian.PutUint32(b[4:8], uint32(partCount))
	binary.BigEndian.PutUint32(b[8:12], uint32(tx))
	binary.BigEndian.PutUint32(b[12:16], uint32(flags))
	return append(b, rest...)
}

func partHeader(tag byte, length int32) []byte {
	b := make([]byte, 5)
	b[0] = tag
	binary.BigEndian.PutUint32(b[1:5], uint32(length))
	return b
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// TestFramingErrors checks that every malformed frame yields a FramingError
func TestFramingErrors(t *testing.T) {
	s := NewBinarySerializer(testLimits)

	tests := map[string][]byte{
		"TruncatedHeader":    frame(7, 0, -1, 0)[:10],
		"NegativePartCount":  frame(7, -1, -1, 0),
		"TooManyParts":       frame(7, 17, -1, 0),
		"NegativePartLength": concat(frame(7, 1, -1, 0), partHeader(byte(common.PartBytes), -5)),
		"OversizedPart":      concat(frame(7, 1, -1, 0), partHeader(byte(common.PartBytes), 1<<30)),
		"UnknownTag":         concat(frame(7, 1, -1, 0), partHeader(99, 1), []byte{0}),
		"ZeroTag":            concat(frame(7, 1, -1, 0), partHeader(0, 0)),
		"IntWrongLength":     concat(frame(7, 1, -1, 0), partHeader(byte(common.PartInt), 3), []byte{0, 0, 1}),
		"BoolWrongLength":    concat(frame(7, 1, -1, 0), partHeader(byte(common.PartBool), 2), []byte{0, 1}),
		"TruncatedPartHead":  concat(frame(7, 1, -1, 0), []byte{byte(common.PartString), 0}),
		"TruncatedPayload":   concat(frame(7, 1, -1, 0), partHeader(byte(common.PartString), 10), []byte("abc")),
		"MissingParts":       concat(frame(7, 2, -1, 0), partHeader(byte(common.PartString), 1), []byte("a")),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadMessage(bytes.NewReader(data))
			var fe *common.FramingError
			if !errors.As(err, &fe) {
				t.Errorf("Expected FramingError, got %v", err)
			}
			if !common.IsFatal(err) {
				t.Errorf("Framing errors must be fatal")
			}
		})
	}
}

// TestTrailingBytes checks that Deserialize rejects data after the frame
func TestTrailingBytes(t *testing.T) {
	s := NewBinarySerializer(testLimits)
	data := append(mustSerialize(t, s, common.NewMessage(common.OpPing)), 0xff)

	var msg common.Message
	var fe *common.FramingError
	if err := s.Deserialize(data, &msg); !errors.As(err, &fe) {
		t.Errorf("Expected FramingError for trailing bytes, got %v", err)
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

// TestReadIOError checks that transport failures are not reported as framing errors
func TestReadIOError(t *testing.T) {
	s := NewBinarySerializer(testLimits)
	boom := errors.New("connection reset")

	_, err := s.ReadMessage(failingReader{boom})
	var ioe *common.IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("Expected IOError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("IOError must wrap the cause")
	}
}

// TestWriteRefusesInvalidMessages checks the encode side limits
func TestWriteRefusesInvalidMessages(t *testing.T) {
	s := NewBinarySerializer(testLimits)

	tooLarge := common.NewMessage(common.OpPut, common.BytesPart(make([]byte, testLimits.MaxPartLength+1)))
	tooMany := common.NewMessage(common.OpPut)
	for i := 0; i <= testLimits.MaxParts; i++ {
		tooMany.Parts = append(tooMany.Parts, common.BoolPart(true))
	}
	badFixed := common.NewMessage(common.OpPut, common.NewPart(common.PartInt, []byte{1}))

	for name, msg := range map[string]*common.Message{"TooLarge": tooLarge, "TooMany": tooMany, "BadFixed": badFixed} {
		var buf bytes.Buffer
		err := s.WriteMessage(&buf, msg)
		var fe *common.FramingError
		if !errors.As(err, &fe) {
			t.Errorf("%s: expected FramingError, got %v", name, err)
		}
		if buf.Len() != 0 {
			t.Errorf("%s: nothing must be written for an invalid message", name)
		}
	}
}

// TestHandshakeRoundTrip checks the handshake codec in both directions
func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hs := Handshake{Mode: common.HandshakeModeByte, Version: common.V2, ClientID: "client-1"}
	if err := WriteHandshake(&buf, hs); err != nil {
		t.Fatalf("Failed to write handshake: %v", err)
	}
	got, err := ReadHandshake(&buf, 64)
	if err != nil {
		t.Fatalf("Failed to read handshake: %v", err)
	}
	if *got != hs {
		t.Errorf("Handshake mismatch: %+v != %+v", got, hs)
	}

	replies := []HandshakeReply{
		{Code: common.HandshakeOK, Version: common.V1},
		{Code: common.HandshakeRefused, Reason: "too many connections"},
		{Code: common.HandshakeInvalid, Reason: "unsupported version"},
	}
	for _, reply := range replies {
		buf.Reset()
		if err := WriteHandshakeReply(&buf, reply); err != nil {
			t.Fatalf("Failed to write reply: %v", err)
		}
		got, err := ReadHandshakeReply(&buf, 64)
		if err != nil {
			t.Fatalf("Failed to read reply: %v", err)
		}
		if *got != reply {
			t.Errorf("Reply mismatch: %+v != %+v", got, reply)
		}
		if reply.Accepted() != (got.Err() == nil) {
			t.Errorf("Err() must be nil exactly for accepted replies")
		}
	}
}

// TestHandshakeInvalidIdentity checks the identity length bound
func TestHandshakeInvalidIdentity(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteHandshake(&buf, Handshake{Mode: common.HandshakeModeByte, Version: common.V1, ClientID: "a-rather-long-identity"})

	_, err := ReadHandshake(&buf, 4)
	var he *common.HandshakeError
	if !errors.As(err, &he) || he.Code != common.HandshakeInvalid {
		t.Errorf("Expected invalid handshake error, got %v", err)
	}
}

// TestDataFrameIsNotAHandshake checks that a request frame sent instead of a
// handshake does not carry the handshake mode byte
func TestDataFrameIsNotAHandshake(t *testing.T) {
	s := NewBinarySerializer(testLimits)
	data := mustSerialize(t, s, common.NewMessage(common.OpPut, common.StringPart("r")))

	hs, err := ReadHandshake(bytes.NewReader(data), 1024)
	if err == nil && hs.Mode == common.HandshakeModeByte {
		t.Errorf("A data frame must never look like a valid handshake")
	}
}
