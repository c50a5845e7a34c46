package connmgr

import (
	"encoding/json"

	"github.com/tymbalhq/tymbal/internal/runtime"
	"github.com/tymbalhq/tymbal/internal/tymbal"
)

// MsgType discriminates connection protocol messages. Backend to runtime:
// activate_agent, deliver_message, suspend_agent, ping. Runtime to backend:
// runtime_ready, agent_checkin, agent_frame, pong.
type MsgType string

const (
	MsgActivateAgent  MsgType = "activate_agent"
	MsgDeliverMessage MsgType = "deliver_message"
	MsgSuspendAgent   MsgType = "suspend_agent"
	MsgPing           MsgType = "ping"

	MsgRuntimeReady MsgType = "runtime_ready"
	MsgAgentCheckin MsgType = "agent_checkin"
	MsgAgentFrame   MsgType = "agent_frame"
	MsgPong         MsgType = "pong"
)

// Envelope is the single wire shape for both directions; Type selects which
// optional fields are meaningful. AgentID and TS let each message be
// processed independently of unrelated agents sharing the socket.
type Envelope struct {
	Type    MsgType `json:"type"`
	AgentID string  `json:"agentId,omitempty"`
	TS      int64   `json:"ts,omitempty"`

	// activate_agent
	Options *runtime.ActivateOptions `json:"options,omitempty"`

	// deliver_message
	Message json.RawMessage `json:"message,omitempty"`

	// agent_frame
	Frame *tymbal.Frame `json:"frame,omitempty"`

	// agent_checkin
	Stats *HostStats `json:"stats,omitempty"`
}

// HostStats is the optional machine health snapshot a runtime attaches to
// its checkins.
type HostStats struct {
	CPUPercent float64 `json:"cpuPercent,omitempty"`
	MemPercent float64 `json:"memPercent,omitempty"`
}
