package tymbal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition is returned when a handle operation is not legal
	// for the message's current value, e.g. appending to a tool call.
	ErrInvalidTransition = errors.New("tymbal: invalid transition")

	// ErrClosed is returned by every operation on a finalized handle.
	ErrClosed = errors.New("tymbal: handle closed")
)

// Sink receives the frames a handle emits. Handles perform no I/O themselves;
// the sink decides where frames go.
type Sink func(Frame) error

// HandleOptions configures a new message handle.
type HandleOptions struct {
	Type     MessageType
	Metadata map[string]string
}

// Handle owns the frame emission sequence for one logical message. Every
// operation emits exactly one frame to the sink and updates a shadow copy of
// the message's current value so append misuse is caught locally instead of
// surfacing as a protocol violation downstream.
//
// A handle is not safe for concurrent use; it belongs to the single producer
// of its message.
type Handle struct {
	id      string
	opts    HandleOptions
	sink    Sink
	started bool
	closed  bool
	value   *SetValue
}

// NewHandle allocates a message id and returns a handle emitting to sink.
func NewHandle(opts HandleOptions, sink Sink) *Handle {
	return &Handle{id: uuid.NewString(), opts: opts, sink: sink}
}

// MessageID returns the id this handle owns.
func (h *Handle) MessageID() string { return h.id }

// Start emits the Start frame declaring the message. It must be called
// exactly once, before any other operation.
func (h *Handle) Start() error {
	if h.closed {
		return ErrClosed
	}
	if h.started {
		return fmt.Errorf("%w: message already started", ErrInvalidTransition)
	}
	if err := h.sink(Frame{
		Type:        FrameStart,
		MessageID:   h.id,
		MessageType: h.opts.Type,
		Metadata:    h.opts.Metadata,
	}); err != nil {
		return err
	}
	h.started = true
	return nil
}

// Append emits an Append frame adding incremental content to the current
// value. The current value must be absent (treated as empty text) or of an
// appendable kind.
func (h *Handle) Append(content string) error {
	if h.closed {
		return ErrClosed
	}
	if !h.started {
		return fmt.Errorf("%w: append before start", ErrInvalidTransition)
	}
	if h.value != nil && !h.value.Appendable() {
		return fmt.Errorf("%w: cannot append to %s value", ErrInvalidTransition, h.value.Type)
	}
	if err := h.sink(Frame{Type: FrameAppend, MessageID: h.id, Content: content}); err != nil {
		return err
	}
	if h.value == nil {
		h.value = &SetValue{Type: ValueText, Text: content}
	} else {
		h.value.Text += content
	}
	return nil
}

// Set emits a Set frame replacing the message's entire current value.
func (h *Handle) Set(v SetValue) error {
	if h.closed {
		return ErrClosed
	}
	if !h.started {
		return fmt.Errorf("%w: set before start", ErrInvalidTransition)
	}
	if err := h.sink(Frame{Type: FrameSet, MessageID: h.id, Value: &v}); err != nil {
		return err
	}
	h.value = &v
	return nil
}

// Reset emits a Reset frame clearing the message back to its empty pre-start
// state. Identifier and metadata are preserved.
func (h *Handle) Reset() error {
	if h.closed {
		return ErrClosed
	}
	if !h.started {
		return fmt.Errorf("%w: reset before start", ErrInvalidTransition)
	}
	if err := h.sink(Frame{Type: FrameReset, MessageID: h.id}); err != nil {
		return err
	}
	h.value = nil
	return nil
}

// Close finalizes the handle. Further operations fail with ErrClosed. Closing
// twice is a no-op.
func (h *Handle) Close() {
	h.closed = true
}
