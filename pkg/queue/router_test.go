package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestKeywordRouting(t *testing.T) {
	r := NewRouter(NewMemoryService())

	tests := []struct {
		content string
		want    string
	}{
		{"found a bug in the merge path", "debugger"},
		{"need to investigate the token refresh flow", "researcher"},
		{"proposal for the storage interface design", "architect"},
		{"lunch is at noon", CuratorAgent},
	}
	for _, tt := range tests {
		entry := NewScratchpadEntry(tt.content, EntryFinding, "agent-a")
		if got := r.InferDestination(entry); got != tt.want {
			t.Errorf("InferDestination(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestExplicitDestinationWins(t *testing.T) {
	r := NewRouter(NewMemoryService())

	entry := NewScratchpadEntry("found a bug", EntryFinding, "agent-a")
	entry.RoutedTo = "researcher"
	if got := r.InferDestination(entry); got != "researcher" {
		t.Errorf("InferDestination = %q, want researcher", got)
	}
}

func TestQuickNoteNotRouted(t *testing.T) {
	svc := NewMemoryService()
	r := NewRouter(svc)

	entry := NewScratchpadEntry("remember to rotate keys", EntryQuickNote, "agent-a")
	res := r.RouteEntry(context.Background(), entry, "ctx-1")

	if !res.Success {
		t.Fatal("expected success for quick note")
	}
	if res.Routed {
		t.Error("quick note should not be routed")
	}
	if res.Reason != "quick_note_no_route" {
		t.Errorf("reason = %q, want quick_note_no_route", res.Reason)
	}
	if n := svc.QueueLen(AgentQueueName(CuratorAgent)); n != 0 {
		t.Errorf("curator queue length = %d, want 0", n)
	}
}

func TestQuickNoteWithExplicitDestination(t *testing.T) {
	svc := NewMemoryService()
	r := NewRouter(svc)

	entry := NewScratchpadEntry("rotate keys today", EntryQuickNote, "agent-a")
	entry.RoutedTo = "debugger"
	res := r.RouteEntry(context.Background(), entry, "ctx-1")

	if !res.Routed || res.RoutedTo != "debugger" {
		t.Fatalf("expected route to debugger, got %+v", res)
	}
	if !res.Queued {
		t.Error("expected delivery to succeed")
	}
}

func TestRouteDeliversValidateMessage(t *testing.T) {
	svc := NewMemoryService()
	r := NewRouter(svc)

	entry := NewScratchpadEntry("crash when merging a paused sidebar", EntryQuestion, "agent-b")
	res := r.RouteEntry(context.Background(), entry, "ctx-7")

	if !res.Success || !res.Routed || !res.Queued {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.RoutedTo != "debugger" {
		t.Fatalf("routed to %q, want debugger", res.RoutedTo)
	}

	msgs, err := svc.Read(context.Background(), AgentQueueName("debugger"), 10)
	if err != nil {
		t.Fatalf("failed to read queue: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("queue length = %d, want 1", len(msgs))
	}

	var msg validateMessage
	if err := json.Unmarshal(msgs[0], &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.Action != "validate_entry" {
		t.Errorf("action = %q, want validate_entry", msg.Action)
	}
	if msg.EntryID != entry.EntryID || msg.ContextID != "ctx-7" {
		t.Errorf("message identity mismatch: %+v", msg)
	}
}

func TestDegradedModeRouting(t *testing.T) {
	svc := NewMemoryService()
	r := NewRouter(svc)

	svc.SetAvailable(false)

	entry := NewScratchpadEntry("please fix the flaky retry", EntryQuestion, "agent-a")
	res := r.RouteEntry(context.Background(), entry, "ctx-1")

	if !res.Success {
		t.Fatal("degraded routing must still succeed")
	}
	if !res.Routed || res.RoutedTo != "debugger" {
		t.Fatalf("expected logical route to debugger, got %+v", res)
	}
	if res.Queued {
		t.Error("queued should be false while queue is down")
	}
	if res.Reason != "queue_unavailable" {
		t.Errorf("reason = %q, want queue_unavailable", res.Reason)
	}

	// Reconnect. The very next call delivers without any router restart.
	svc.SetAvailable(true)

	entry2 := NewScratchpadEntry("another bug report", EntryQuestion, "agent-a")
	res2 := r.RouteEntry(context.Background(), entry2, "ctx-1")
	if !res2.Queued {
		t.Fatal("expected delivery after queue recovery")
	}
	if n := svc.QueueLen(AgentQueueName("debugger")); n != 1 {
		t.Errorf("debugger queue length = %d, want 1", n)
	}
}

func TestNilServiceDegrades(t *testing.T) {
	r := NewRouter(nil)

	entry := NewScratchpadEntry("investigate cache warmup", EntryFinding, "agent-a")
	res := r.RouteEntry(context.Background(), entry, "ctx-1")

	if !res.Success || !res.Routed || res.Queued {
		t.Fatalf("unexpected result with nil service: %+v", res)
	}
}

func TestCuratorApprove(t *testing.T) {
	svc := NewMemoryService()
	r := NewRouter(svc)

	entry := NewScratchpadEntry("security review of the new auth flow", EntryFinding, "agent-c")

	res := r.CuratorApproveEntry(context.Background(), entry, "ctx-1", true)
	if !res.Approved {
		t.Fatal("expected approval")
	}
	if res.RoutedTo != "researcher" {
		t.Errorf("routed to %q, want researcher", res.RoutedTo)
	}
	if !res.Queued {
		t.Error("expected approved entry to be delivered")
	}
	if n := svc.QueueLen(AgentQueueName("researcher")); n != 1 {
		t.Errorf("researcher queue length = %d, want 1", n)
	}
}

func TestCuratorReject(t *testing.T) {
	svc := NewMemoryService()
	r := NewRouter(svc)

	entry := NewScratchpadEntry("design doubt about the cache", EntryFinding, "agent-c")

	res := r.CuratorApproveEntry(context.Background(), entry, "ctx-1", false)
	if res.Approved {
		t.Fatal("expected rejection")
	}
	if res.Queued {
		t.Error("rejected entry must not be delivered")
	}
	if res.Reason != "rejected_by_curator" {
		t.Errorf("reason = %q, want rejected_by_curator", res.Reason)
	}
	if n := svc.QueueLen(AgentQueueName("architect")); n != 0 {
		t.Errorf("architect queue length = %d, want 0", n)
	}
}

func TestCustomSpecialty(t *testing.T) {
	r := NewRouter(NewMemoryService(), WithSpecialty("translator", "translate", "locale"))

	entry := NewScratchpadEntry("translate the error catalogue", EntryQuestion, "agent-a")
	if got := r.InferDestination(entry); got != "translator" {
		t.Errorf("InferDestination = %q, want translator", got)
	}
}

func TestMemorySetNXTTL(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	ok, err := svc.SetNX(ctx, "grab:a:b", "agent-1", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = svc.SetNX(ctx, "grab:a:b", "agent-2", 50*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("second SetNX should lose: ok=%v err=%v", ok, err)
	}

	time.Sleep(60 * time.Millisecond)

	ok, err = svc.SetNX(ctx, "grab:a:b", "agent-2", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry: ok=%v err=%v", ok, err)
	}
}
