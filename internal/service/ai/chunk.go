package ai

// ChunkType is the normalized streaming-event vocabulary. Provider-specific
// stream shapes are mapped onto these before anything downstream sees them,
// which keeps the rest of the system decoupled from the upstream API.
type ChunkType string

const (
	ChunkMessageStart ChunkType = "message-start"
	ChunkBlockStart   ChunkType = "block-start"
	ChunkTextDelta    ChunkType = "text-delta"
	ChunkBlockDelta   ChunkType = "block-delta"
	ChunkBlockStop    ChunkType = "block-stop"
	ChunkMessageStop  ChunkType = "message-stop"
	ChunkError        ChunkType = "error"
)

// Chunk is one normalized streaming event. Content is set for text-delta
// chunks, Err for error chunks.
type Chunk struct {
	Type    ChunkType
	Content string
	Err     string
}
