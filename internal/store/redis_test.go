package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/tymbalhq/tymbal/internal/agent"
)

func TestRedisFinalizerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	rf, err := NewRedisFinalizer(mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	id := agent.ID{Channel: "general", Session: "s1"}
	final := agent.State{
		Status:        agent.StatusTerminated,
		LastCheckinAt: time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
		FrameCursor:   42,
		Err:           &agent.Error{Kind: agent.ErrKindActivation, Message: "quota", Retryable: false},
	}
	if err := rf.Finalize(id, final); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := rf.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != final.Status || got.FrameCursor != 42 || got.Err == nil || got.Err.Message != "quota" {
		t.Fatalf("loaded = %+v", got)
	}
	if !got.LastCheckinAt.Equal(final.LastCheckinAt) {
		t.Fatalf("lastCheckinAt = %v", got.LastCheckinAt)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("localhost:6379")
	if err != nil || opts.Addrs[0] != "localhost:6379" {
		t.Fatalf("plain addr: %+v %v", opts, err)
	}

	opts, err = parseRedisURL("redis://user:pw@host:6379/2")
	if err != nil {
		t.Fatalf("redis url: %v", err)
	}
	if opts.Username != "user" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("redis url opts: %+v", opts)
	}

	opts, err = parseRedisURL("rediss-sentinel://host1:26379,host2:26379/mymaster?db=1")
	if err != nil {
		t.Fatalf("sentinel url: %v", err)
	}
	if opts.MasterName != "mymaster" || len(opts.Addrs) != 2 || opts.DB != 1 || opts.TLSConfig == nil {
		t.Fatalf("sentinel opts: %+v", opts)
	}

	if _, err := parseRedisURL("http://nope"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
