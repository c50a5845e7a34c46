package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerConfigLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := `
port: 9090
runtime_key: hunter2
keepalive: 5s
backend: fleet
fleet_url: https://fleet.example.com
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := ServerConfig{Port: 8080, WSPath: "/api/runtimes/connect", MaxMissed: 3}
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != 9090 || c.RuntimeKey != "hunter2" || c.Keepalive != 5*time.Second {
		t.Fatalf("overlaid config = %+v", c)
	}
	if c.Backend != "fleet" || c.FleetURL != "https://fleet.example.com" {
		t.Fatalf("backend config = %+v", c)
	}
	// Fields absent from the file keep their prior values.
	if c.WSPath != "/api/runtimes/connect" || c.MaxMissed != 3 {
		t.Fatalf("untouched fields changed: %+v", c)
	}
}

func TestRuntimeConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	data := `
server_url: wss://tymbal.example.com/api/runtimes/connect
channel: laptop-1
agent_command: ["/usr/local/bin/agent", "--stream"]
checkin_interval: 30s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var c RuntimeConfig
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Channel != "laptop-1" || c.CheckinInterval != 30*time.Second {
		t.Fatalf("config = %+v", c)
	}
	if len(c.AgentCommand) != 2 || c.AgentCommand[0] != "/usr/local/bin/agent" {
		t.Fatalf("agent command = %v", c.AgentCommand)
	}
}

func TestLoadFileMissing(t *testing.T) {
	var c ServerConfig
	if err := c.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
