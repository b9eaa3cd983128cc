package serializer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

// NewBinarySerializer creates a new frame codec that enforces the given limits
func NewBinarySerializer(limits Limits) IRPCSerializer {
	return &binarySerializerImpl{limits: limits}
}

// binarySerializerImpl implements IRPCSerializer using the big endian frame format:
//
//	header: opcode int32 | partCount int32 | transactionId int32 | flags int32
//	part:   tag uint8 | length int32 | payload
type binarySerializerImpl struct {
	limits Limits
}

const (
	headerSize     = 16
	partHeaderSize = 5
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b *binarySerializerImpl) Validate(msg *common.Message) error {
	if msg.NumParts() > b.limits.MaxParts {
		return common.NewFramingError("message has %d parts, limit is %d", msg.NumParts(), b.limits.MaxParts)
	}
	for i, p := range msg.Parts {
		if p == nil {
			return common.NewFramingError("part %d is nil", i)
		}
		if !p.Kind().IsValid() {
			return common.NewFramingError("part %d has unknown kind %d", i, uint8(p.Kind()))
		}
		if p.Len() > b.limits.MaxPartLength {
			return common.NewFramingError("part %d has %d bytes, limit is %d", i, p.Len(), b.limits.MaxPartLength)
		}
		if fixed := p.Kind().FixedLength(); fixed >= 0 && p.Len() != fixed {
			return common.NewFramingError("%s part %d has %d bytes, expected %d", p.Kind(), i, p.Len(), fixed)
		}
	}
	return nil
}

func (b *binarySerializerImpl) Serialize(msg *common.Message) ([]byte, error) {
	if err := b.Validate(msg); err != nil {
		return nil, err
	}

	result := make([]byte, FrameSize(msg))

	putHeader(result, msg)
	pos := headerSize
	for _, p := range msg.Parts {
		putPartHeader(result[pos:], p)
		pos += partHeaderSize
		pos += copy(result[pos:], p.Data())
	}
	return result, nil
}

func (b *binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	r := bytes.NewReader(data)
	decoded, err := b.ReadMessage(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return common.NewFramingError("empty frame")
		}
		return err
	}
	if r.Len() > 0 {
		return common.NewFramingError("%d trailing bytes after frame", r.Len())
	}
	*msg = *decoded
	return nil
}

func (b *binarySerializerImpl) ReadMessage(r io.Reader) (*common.Message, error) {
	var header [headerSize]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, readError(err, "header")
	}

	partCount := int32(binary.BigEndian.Uint32(header[4:8]))
	if partCount < 0 || int(partCount) > b.limits.MaxParts {
		return nil, common.NewFramingError("part count %d out of range [0, %d]", partCount, b.limits.MaxParts)
	}

	msg := &common.Message{
		OpCode:        common.OpCode(int32(binary.BigEndian.Uint32(header[0:4]))),
		TransactionID: int32(binary.BigEndian.Uint32(header[8:12])),
		Flags:         common.MessageFlags(int32(binary.BigEndian.Uint32(header[12:16]))),
		Parts:         make([]*common.Part, 0, partCount),
	}

	var partHeader [partHeaderSize]byte
	for i := 0; i < int(partCount); i++ {
		if _, err := io.ReadFull(r, partHeader[:]); err != nil {
			return nil, readError(err, "part header")
		}

		kind := common.PartKind(partHeader[0])
		if !kind.IsValid() {
			return nil, common.NewFramingError("part %d has unknown tag %d", i, partHeader[0])
		}

		// the length is checked before anything is allocated for the payload
		length := int32(binary.BigEndian.Uint32(partHeader[1:5]))
		if length < 0 || int(length) > b.limits.MaxPartLength {
			return nil, common.NewFramingError("part %d length %d out of range [0, %d]", i, length, b.limits.MaxPartLength)
		}
		if fixed := kind.FixedLength(); fixed >= 0 && int(length) != fixed {
			return nil, common.NewFramingError("%s part %d has length %d, expected %d", kind, i, length, fixed)
		}

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, readError(err, "part payload")
			}
		}
		msg.Parts = append(msg.Parts, common.NewPart(kind, payload))
	}

	return msg, nil
}

func (b *binarySerializerImpl) WriteMessage(w io.Writer, msg *common.Message) error {
	if err := b.Validate(msg); err != nil {
		return err
	}

	// one buffer holds the frame header and all part headers, payloads are not copied
	headers := make([]byte, headerSize+partHeaderSize*len(msg.Parts))
	putHeader(headers, msg)

	bufs := make(net.Buffers, 0, 1+2*len(msg.Parts))
	bufs = append(bufs, headers[:headerSize])
	for i, p := range msg.Parts {
		ph := headers[headerSize+i*partHeaderSize : headerSize+(i+1)*partHeaderSize]
		putPartHeader(ph, p)
		bufs = append(bufs, ph)
		if p.Len() > 0 {
			bufs = append(bufs, p.Data())
		}
	}

	if _, err := bufs.WriteTo(w); err != nil {
		return &common.IOError{Op: "write", Err: err}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// FrameSize returns the number of bytes msg occupies on the wire
func FrameSize(msg *common.Message) int {
	size := headerSize
	for _, p := range msg.Parts {
		size += partHeaderSize + p.Len()
	}
	return size
}

func putHeader(dst []byte, msg *common.Message) {
	binary.BigEndian.PutUint32(dst[0:4], uint32(msg.OpCode))
	binary.BigEndian.PutUint32(dst[4:8], uint32(int32(msg.NumParts())))
	binary.BigEndian.PutUint32(dst[8:12], uint32(msg.TransactionID))
	binary.BigEndian.PutUint32(dst[12:16], uint32(msg.Flags))
}

func putPartHeader(dst []byte, p *common.Part) {
	dst[0] = byte(p.Kind())
	binary.BigEndian.PutUint32(dst[1:5], uint32(int32(p.Len())))
}

// readError classifies a failed read: a stream that ends inside a frame is a
// framing error, everything else is an i/o error.
func readError(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &common.FramingError{Reason: "stream ended inside " + what, Err: io.ErrUnexpectedEOF}
	}
	return &common.IOError{Op: "read " + what, Err: err}
}
