package tymbal

import (
	"fmt"
	"sort"
)

// ProtocolError reports an out-of-sequence frame, e.g. an Append for a
// messageId no Start has introduced. The offending frame is dropped; state
// for every other message is untouched.
type ProtocolError struct {
	MessageID string
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tymbal: protocol violation for message %s: %s", e.MessageID, e.Reason)
}

// Assembler folds an ordered frame stream into the current set of messages
// and retains a bounded frame log so a lagging consumer can be caught up via
// sync. One assembler serves one session's ordered stream; it is not safe for
// concurrent use.
type Assembler struct {
	msgs    map[string]*Message
	order   []string
	log     []Frame
	retain  int
	nextSeq uint64
}

// NewAssembler returns an assembler retaining up to retain frames for sync
// catch-up. retain <= 0 selects a default of 1024.
func NewAssembler(retain int) *Assembler {
	if retain <= 0 {
		retain = 1024
	}
	return &Assembler{msgs: make(map[string]*Message), retain: retain}
}

// Apply folds one frame into the assembled state and records it in the frame
// log. Frames without a sequence number are stamped with the next one. The
// stamped frame is returned so callers can forward it. Sync frames carry no
// message state and are rejected.
func (a *Assembler) Apply(f Frame) (Frame, error) {
	switch f.Type {
	case FrameSyncRequest, FrameSyncResponse:
		return Frame{}, &ProtocolError{Reason: fmt.Sprintf("%s frame in content stream", f.Type)}
	}

	if f.IsMessageFrame() {
		if err := a.applyMessage(f); err != nil {
			return Frame{}, err
		}
	}

	if f.Seq == 0 {
		a.nextSeq++
		f.Seq = a.nextSeq
	} else {
		a.nextSeq = f.Seq
	}
	if f.IsMessageFrame() {
		a.msgs[f.MessageID].UpdatedSeq = f.Seq
	}
	a.log = append(a.log, f)
	if len(a.log) > a.retain {
		a.log = a.log[len(a.log)-a.retain:]
	}
	return f, nil
}

func (a *Assembler) applyMessage(f Frame) error {
	m, ok := a.msgs[f.MessageID]
	switch f.Type {
	case FrameStart:
		if ok {
			return &ProtocolError{MessageID: f.MessageID, Reason: "duplicate start"}
		}
		a.msgs[f.MessageID] = &Message{ID: f.MessageID, Type: f.MessageType, Metadata: f.Metadata}
		a.order = append(a.order, f.MessageID)
		return nil
	case FrameAppend:
		if !ok {
			return &ProtocolError{MessageID: f.MessageID, Reason: "append before start"}
		}
		if m.Value == nil {
			m.Value = &SetValue{Type: ValueText}
		}
		if !m.Value.Appendable() {
			return &ProtocolError{MessageID: f.MessageID, Reason: fmt.Sprintf("append to %s value", m.Value.Type)}
		}
		m.Value.Text += f.Content
		return nil
	case FrameSet:
		if !ok {
			return &ProtocolError{MessageID: f.MessageID, Reason: "set before start"}
		}
		v := *f.Value
		m.Value = &v
		return nil
	case FrameReset:
		if !ok {
			return &ProtocolError{MessageID: f.MessageID, Reason: "reset before start"}
		}
		m.Value = nil
		return nil
	}
	return nil
}

// LastSeq returns the sequence number of the newest frame folded.
func (a *Assembler) LastSeq() uint64 { return a.nextSeq }

// Message returns the assembled message with the given id, if present.
func (a *Assembler) Message(id string) (Message, bool) {
	m, ok := a.msgs[id]
	if !ok {
		return Message{}, false
	}
	return cloneMessage(m), true
}

// Messages returns all assembled messages in start order.
func (a *Assembler) Messages() []Message {
	out := make([]Message, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, cloneMessage(a.msgs[id]))
	}
	return out
}

// Sync answers a sync_request carrying the consumer's last observed sequence.
// If every frame past that cursor is still in the retained log, the missing
// frames are returned; otherwise the response falls back to a full snapshot.
// A consumer that is already current gets an explicit up-to-date response,
// kept distinct on the wire from a response carrying neither variant.
func (a *Assembler) Sync(lastSeq uint64) Frame {
	if lastSeq >= a.nextSeq {
		return Frame{Type: FrameSyncResponse, Seq: a.nextSeq, UpToDate: true}
	}
	missing := make([]Frame, 0)
	for _, f := range a.log {
		if f.Seq > lastSeq {
			missing = append(missing, f)
		}
	}
	// The oldest missing frame must be the direct successor of the cursor;
	// anything older has been evicted and only a snapshot is faithful.
	if len(missing) > 0 && missing[0].Seq == lastSeq+1 {
		sort.SliceStable(missing, func(i, j int) bool { return missing[i].Seq < missing[j].Seq })
		return Frame{Type: FrameSyncResponse, Seq: a.nextSeq, Frames: missing}
	}
	return Frame{Type: FrameSyncResponse, Seq: a.nextSeq, Snapshot: a.Messages()}
}

func cloneMessage(m *Message) Message {
	out := *m
	if m.Value != nil {
		v := *m.Value
		out.Value = &v
	}
	if m.Metadata != nil {
		md := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	return out
}
