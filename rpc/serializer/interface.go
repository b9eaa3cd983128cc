package serializer

import (
	"io"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

// IRPCSerializer is the interface of the frame codec.
// Implementations are stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize encodes a Message into a complete frame
	// It returns a *common.FramingError if the message exceeds the limits
	Serialize(msg *common.Message) ([]byte, error)
	// Deserialize decodes one complete frame into msg
	// Trailing bytes after the frame are an error
	Deserialize(b []byte, msg *common.Message) error
	// ReadMessage reads exactly one frame from r
	// It returns io.EOF if the stream ended cleanly before the first header byte,
	// a *common.FramingError for malformed or truncated frames and a
	// *common.IOError if reading failed
	ReadMessage(r io.Reader) (*common.Message, error)
	// WriteMessage writes msg as one frame to w
	WriteMessage(w io.Writer, msg *common.Message) error
	// Validate checks that msg can be encoded within the limits
	Validate(msg *common.Message) error
}

// Limits bound the size of decoded and encoded frames
type Limits struct {
	MaxParts      int
	MaxPartLength int
}

// DefaultLimits returns the limits used by servers without explicit configuration
func DefaultLimits() Limits {
	return Limits{
		MaxParts:      common.DefaultMaxParts,
		MaxPartLength: common.DefaultMaxPartLength,
	}
}

// LimitsFromConfig extracts the framing limits of a server configuration
func LimitsFromConfig(c common.ServerConfig) Limits {
	return Limits{MaxParts: c.MaxParts, MaxPartLength: c.MaxPartLength}
}
