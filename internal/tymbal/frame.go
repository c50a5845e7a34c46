package tymbal

// FrameType discriminates the wire frame variants.
type FrameType string

const (
	FrameStart        FrameType = "start"
	FrameAppend       FrameType = "append"
	FrameSet          FrameType = "set"
	FrameReset        FrameType = "reset"
	FrameSyncRequest  FrameType = "sync_request"
	FrameSyncResponse FrameType = "sync_response"
	FrameError        FrameType = "error"
	FrameArtifact     FrameType = "artifact"
)

// MessageType classifies the logical message a Start frame opens.
type MessageType string

const (
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
	MessageTool      MessageType = "tool"
)

// ValueType discriminates the payload shapes a Set frame may carry.
type ValueType string

const (
	ValueText       ValueType = "text"
	ValueToolCall   ValueType = "tool_call"
	ValueToolResult ValueType = "tool_result"
	ValueThinking   ValueType = "thinking"
	ValueStatus     ValueType = "status"
	ValueError      ValueType = "error"
	ValueIdle       ValueType = "idle"
)

// SetValue is the closed set of payloads a message may hold. Type selects the
// variant; only that variant's fields are populated.
type SetValue struct {
	Type ValueType `json:"type"`

	// text, thinking
	Text string `json:"text,omitempty"`

	// tool_call
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Input      string `json:"input,omitempty"`

	// tool_result
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"isError,omitempty"`

	// status
	Status string `json:"status,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Appendable reports whether incremental Append content may be folded into a
// value of this kind. Only the text-like kinds accept appends.
func (v SetValue) Appendable() bool {
	return v.Type == ValueText || v.Type == ValueThinking
}

// Frame is one unit of the NDJSON streaming protocol. Message frames carry
// MessageID; control frames do not reference a single message's content.
type Frame struct {
	Type FrameType `json:"type"`
	Seq  uint64    `json:"seq,omitempty"`

	// message frames
	MessageID   string            `json:"messageId,omitempty"`
	MessageType MessageType       `json:"messageType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// append
	Content string `json:"content,omitempty"`

	// set
	Value *SetValue `json:"value,omitempty"`

	// sync_request
	LastSeq uint64 `json:"lastSeq,omitempty"`

	// sync_response: exactly one of Frames or Snapshot is populated, or
	// UpToDate is set when the requester's cursor is already current
	Frames   []Frame   `json:"frames,omitempty"`
	Snapshot []Message `json:"snapshot,omitempty"`
	UpToDate bool      `json:"upToDate,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// artifact
	Name      string `json:"name,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	URI       string `json:"uri,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// IsMessageFrame reports whether the frame mutates one logical message.
func (f Frame) IsMessageFrame() bool {
	switch f.Type {
	case FrameStart, FrameAppend, FrameSet, FrameReset:
		return true
	}
	return false
}

// Message is a logical unit of agent output assembled from frames.
type Message struct {
	ID         string            `json:"id"`
	Type       MessageType       `json:"type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Value      *SetValue         `json:"value,omitempty"`
	UpdatedSeq uint64            `json:"updatedSeq,omitempty"`
}
