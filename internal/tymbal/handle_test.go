package tymbal

import (
	"errors"
	"testing"
)

func collectSink(out *[]Frame) Sink {
	return func(f Frame) error {
		*out = append(*out, f)
		return nil
	}
}

func TestHandleEmitsOneFramePerOperation(t *testing.T) {
	var got []Frame
	h := NewHandle(HandleOptions{Type: MessageAssistant, Metadata: map[string]string{"k": "v"}}, collectSink(&got))
	if h.MessageID() == "" {
		t.Fatalf("expected generated message id")
	}

	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Append("hel"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Append("lo"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Set(SetValue{Type: ValueStatus, Status: "done"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	types := []FrameType{FrameStart, FrameAppend, FrameAppend, FrameSet, FrameReset}
	if len(got) != len(types) {
		t.Fatalf("emitted %d frames; want %d", len(got), len(types))
	}
	for i, want := range types {
		if got[i].Type != want {
			t.Fatalf("frame %d type = %s; want %s", i, got[i].Type, want)
		}
		if got[i].MessageID != h.MessageID() {
			t.Fatalf("frame %d carries id %q; want %q", i, got[i].MessageID, h.MessageID())
		}
	}
	if got[0].MessageType != MessageAssistant || got[0].Metadata["k"] != "v" {
		t.Fatalf("start frame lost options: %+v", got[0])
	}
}

func TestHandleRequiresStart(t *testing.T) {
	var got []Frame
	h := NewHandle(HandleOptions{Type: MessageSystem}, collectSink(&got))
	if err := h.Append("x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("append before start = %v; want ErrInvalidTransition", err)
	}
	if err := h.Set(SetValue{Type: ValueIdle}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("set before start = %v; want ErrInvalidTransition", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double start = %v; want ErrInvalidTransition", err)
	}
	if len(got) != 1 {
		t.Fatalf("failed operations must not emit frames; got %d", len(got))
	}
}

func TestHandleAppendOnlyToAppendableValues(t *testing.T) {
	var got []Frame
	h := NewHandle(HandleOptions{Type: MessageAssistant}, collectSink(&got))
	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Set(SetValue{Type: ValueToolCall, ToolName: "bash"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Append("x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("append to tool_call = %v; want ErrInvalidTransition", err)
	}
	if err := h.Set(SetValue{Type: ValueThinking, Text: "a"}); err != nil {
		t.Fatalf("set thinking: %v", err)
	}
	if err := h.Append("b"); err != nil {
		t.Fatalf("append to thinking: %v", err)
	}
	// Reset clears back to the empty pre-start value, which accepts appends.
	if err := h.Set(SetValue{Type: ValueIdle}); err != nil {
		t.Fatalf("set idle: %v", err)
	}
	if err := h.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := h.Append("fresh"); err != nil {
		t.Fatalf("append after reset: %v", err)
	}
}

func TestHandleClosed(t *testing.T) {
	var got []Frame
	h := NewHandle(HandleOptions{}, collectSink(&got))
	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.Close()
	h.Close()
	if err := h.Append("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close = %v; want ErrClosed", err)
	}
	if err := h.Set(SetValue{Type: ValueIdle}); !errors.Is(err, ErrClosed) {
		t.Fatalf("set after close = %v; want ErrClosed", err)
	}
	if err := h.Reset(); !errors.Is(err, ErrClosed) {
		t.Fatalf("reset after close = %v; want ErrClosed", err)
	}
	if err := h.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close = %v; want ErrClosed", err)
	}
}

func TestHandleSinkErrorLeavesShadowUntouched(t *testing.T) {
	fail := errors.New("sink down")
	h := NewHandle(HandleOptions{}, func(Frame) error { return fail })
	if err := h.Start(); !errors.Is(err, fail) {
		t.Fatalf("start = %v; want sink error", err)
	}
	// Start did not take effect, so append still reports the missing start.
	if err := h.Append("x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("append = %v; want ErrInvalidTransition", err)
	}
}
