package bwproto

const (
	// ChunkSize is the transfer unit for both directions.
	ChunkSize = 65536

	// DefaultTransferBytes is used when DOWNLOAD/UPLOAD omit a size.
	DefaultTransferBytes = 10 * 1024 * 1024

	// headerSize is the big-endian length prefix on DOWNLOAD streams.
	headerSize = 8
)

// payloadChunk is the deterministic pseudorandom pattern streamed on
// DOWNLOAD and sent by the client on UPLOAD. Both sides generate the
// same bytes, which keeps the protocol dependency-free and makes
// payload corruption visible in captures.
var payloadChunk = makePayloadChunk()

func makePayloadChunk() []byte {
	b := make([]byte, ChunkSize)
	for i := range b {
		b[i] = byte((i*17 + 31) % 256)
	}
	return b
}
