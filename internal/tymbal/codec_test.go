package tymbal

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestRoundTripAllVariants(t *testing.T) {
	frames := []Frame{
		{Type: FrameStart, Seq: 1, MessageID: "m1", MessageType: MessageAssistant, Metadata: map[string]string{"agent": "general/abc"}},
		{Type: FrameAppend, Seq: 2, MessageID: "m1", Content: "hel"},
		{Type: FrameAppend, Seq: 3, MessageID: "m1", Content: "lo"},
		{Type: FrameSet, Seq: 4, MessageID: "m1", Value: &SetValue{Type: ValueText, Text: "hello"}},
		{Type: FrameSet, MessageID: "m1", Value: &SetValue{Type: ValueToolCall, ToolCallID: "t1", ToolName: "bash", Input: `{"cmd":"ls"}`}},
		{Type: FrameSet, MessageID: "m1", Value: &SetValue{Type: ValueToolResult, ToolCallID: "t1", Output: "ok", IsError: true}},
		{Type: FrameSet, MessageID: "m1", Value: &SetValue{Type: ValueThinking, Text: "hmm"}},
		{Type: FrameSet, MessageID: "m1", Value: &SetValue{Type: ValueStatus, Status: "compiling"}},
		{Type: FrameSet, MessageID: "m1", Value: &SetValue{Type: ValueError, Code: "boom", Message: "it broke"}},
		{Type: FrameSet, MessageID: "m1", Value: &SetValue{Type: ValueIdle}},
		{Type: FrameReset, MessageID: "m1"},
		{Type: FrameSyncRequest, LastSeq: 7},
		{Type: FrameSyncResponse, Frames: []Frame{{Type: FrameReset, Seq: 8, MessageID: "m1"}}},
		{Type: FrameSyncResponse, Snapshot: []Message{{ID: "m1", Type: MessageAssistant, Value: &SetValue{Type: ValueText, Text: "hi"}}}},
		{Type: FrameSyncResponse, Seq: 9, UpToDate: true},
		{Type: FrameError, Code: "bad_frame", Message: "unparseable line"},
		{Type: FrameError, MessageID: "m1", Code: "stale", Message: "scoped to message"},
		{Type: FrameArtifact, MessageID: "m1", Name: "report.pdf", MediaType: "application/pdf", URI: "asset://ch/report.pdf", Size: 1234},
	}
	for _, f := range frames {
		line, err := MarshalFrameLine(f)
		if err != nil {
			t.Fatalf("marshal %s: %v", f.Type, err)
		}
		got, err := ParseFrame(line[:len(line)-1])
		if err != nil {
			t.Fatalf("parse %s: %v", f.Type, err)
		}
		if !reflect.DeepEqual(got, f) {
			t.Fatalf("round trip %s:\n got %#v\nwant %#v", f.Type, got, f)
		}
	}
}

func TestParseFrameRejects(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"warp"}`,
		`{"type":"append","content":"x"}`,
		`{"type":"set","messageId":"m1"}`,
		`{"type":"set","messageId":"m1","value":{"type":"nope"}}`,
	}
	for _, c := range cases {
		if _, err := ParseFrame([]byte(c)); err == nil {
			t.Fatalf("expected error for %q", c)
		} else {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError for %q, got %T", c, err)
			}
		}
	}
}

func TestDecoderContinuesPastBadLine(t *testing.T) {
	input := `{"type":"start","messageId":"m1","messageType":"assistant"}
garbage
{"type":"append","messageId":"m1","content":"hi"}
`
	d := NewDecoder(strings.NewReader(input))

	f, err := d.Decode()
	if err != nil || f.Type != FrameStart {
		t.Fatalf("first decode: %v %v", f.Type, err)
	}

	if _, err := d.Decode(); err == nil {
		t.Fatalf("expected parse error on garbage line")
	} else {
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected *ParseError, got %T", err)
		}
	}

	f, err = d.Decode()
	if err != nil || f.Type != FrameAppend || f.Content != "hi" {
		t.Fatalf("decode after bad line: %+v %v", f, err)
	}

	if _, err := d.Decode(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	d := NewDecoder(strings.NewReader("\n\n{\"type\":\"reset\",\"messageId\":\"m1\"}\n\n"))
	f, err := d.Decode()
	if err != nil || f.Type != FrameReset {
		t.Fatalf("decode: %+v %v", f, err)
	}
	if _, err := d.Decode(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
