// Package serializer implements the frame codec of the cache protocol. It
// turns byte streams into common.Message values and back, and encodes the
// handshake that opens every connection.
//
// Frame Format (all integers big endian):
//
//	opcode int32 | partCount int32 | transactionId int32 | flags int32
//	partCount times: tag uint8 | length int32 | payload
//
// The codec is version independent. Every part is self-describing, so
// which parts an opcode carries in a given protocol version is decided one
// level up by the layout table in the common package.
//
// Limits:
//
//	The part count and every part length are checked against Limits before
//	any memory is allocated for them. Violations, unknown tags, wrong fixed
//	widths (int = 4, bool = 1) and streams that end inside a frame are
//	reported as *common.FramingError. A stream that ends cleanly before a
//	frame starts returns io.EOF.
//
// Writing:
//
//	WriteMessage hands the header and all parts to the connection as one
//	net.Buffers write, so payloads are never copied into an intermediate
//	buffer.
//
// Thread Safety:
//
//	The serializer is stateless and safe for concurrent use across multiple
//	goroutines without additional synchronization.
package serializer
