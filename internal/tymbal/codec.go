package tymbal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ParseError reports a line that could not be decoded into a frame. It is a
// value, not a panic: a faulty line never aborts the rest of a stream.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tymbal: parse frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var frameTypes = map[FrameType]bool{
	FrameStart:        true,
	FrameAppend:       true,
	FrameSet:          true,
	FrameReset:        true,
	FrameSyncRequest:  true,
	FrameSyncResponse: true,
	FrameError:        true,
	FrameArtifact:     true,
}

var valueTypes = map[ValueType]bool{
	ValueText:       true,
	ValueToolCall:   true,
	ValueToolResult: true,
	ValueThinking:   true,
	ValueStatus:     true,
	ValueError:      true,
	ValueIdle:       true,
}

// ParseFrame decodes one NDJSON line into a Frame. Malformed input yields a
// *ParseError describing the line; it never panics.
func ParseFrame(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, &ParseError{Line: string(line), Err: err}
	}
	if err := validateFrame(f); err != nil {
		return Frame{}, &ParseError{Line: string(line), Err: err}
	}
	return f, nil
}

func validateFrame(f Frame) error {
	if !frameTypes[f.Type] {
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	if f.IsMessageFrame() && f.MessageID == "" {
		return fmt.Errorf("%s frame missing messageId", f.Type)
	}
	switch f.Type {
	case FrameSet:
		if f.Value == nil {
			return fmt.Errorf("set frame missing value")
		}
		if !valueTypes[f.Value.Type] {
			return fmt.Errorf("unknown value type %q", f.Value.Type)
		}
	case FrameSyncResponse:
		if f.Frames != nil && f.Snapshot != nil {
			return fmt.Errorf("sync_response carries both frames and snapshot")
		}
		if f.UpToDate && (len(f.Frames) > 0 || len(f.Snapshot) > 0) {
			return fmt.Errorf("up-to-date sync_response carries catch-up data")
		}
	}
	return nil
}

// MarshalFrame serializes a frame to its wire form without a line terminator.
// It is the exact inverse of ParseFrame for every frame this system produces.
func MarshalFrame(f Frame) ([]byte, error) {
	if err := validateFrame(f); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// MarshalFrameLine serializes a frame with the trailing newline appended.
func MarshalFrameLine(f Frame) ([]byte, error) {
	b, err := MarshalFrame(f)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decoder reads a line-delimited frame stream. Each call to Decode consumes
// one input line and returns either its frame or a *ParseError; decoding
// continues at the next line after an error. Decoder buffers only the current
// line and holds no cross-line state.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder returns a Decoder reading NDJSON frames from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{s: s}
}

// Decode returns the next frame in the stream. A malformed line yields a
// *ParseError; the caller may keep decoding. io.EOF signals a clean end of
// input, any other non-ParseError is a transport read failure.
func (d *Decoder) Decode() (Frame, error) {
	for d.s.Scan() {
		line := strings.TrimSpace(d.s.Text())
		if line == "" {
			continue
		}
		return ParseFrame([]byte(line))
	}
	if err := d.s.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
