package loom

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tapestry-ai/loom/pkg/layout"
	"github.com/tapestry-ai/loom/pkg/orchestrator"
	"github.com/tapestry-ai/loom/pkg/queue"
)

func newLoom(t *testing.T) (*Loom, *queue.MemoryService) {
	t.Helper()
	svc := queue.NewMemoryService()
	l, err := NewInMemory(svc)
	if err != nil {
		t.Fatalf("NewInMemory failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, svc
}

func TestSpawnAndMergeScenario(t *testing.T) {
	l, _ := newLoom(t)
	ctx := context.Background()
	orch := l.Orchestrator()

	root, err := orch.CreateRootContext(ctx, "main discussion", PriorityNormal, "user")
	if err != nil {
		t.Fatalf("CreateRootContext failed: %v", err)
	}

	child, err := orch.SpawnSidebar(ctx, root.ID, "investigate caching", PriorityNormal, "user")
	if err != nil {
		t.Fatalf("SpawnSidebar failed: %v", err)
	}

	if err := orch.Merge(ctx, child.ID, "user"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	got, err := orch.GetContext(child.ID)
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if got.Status != StatusMerged {
		t.Errorf("child status = %s, want MERGED", got.Status)
	}

	parent, err := orch.GetContext(root.ID)
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	found := false
	for _, id := range parent.ChildIDs {
		if id == child.ID {
			found = true
		}
	}
	if !found {
		t.Error("parent lost merged child id")
	}

	result, err := orch.VerifyChain(ctx, 0, "test")
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("chain invalid after scenario: %+v", result)
	}
}

func TestValidationPromptsThroughFacade(t *testing.T) {
	l, _ := newLoom(t)
	ctx := context.Background()
	orch := l.Orchestrator()

	a, _ := orch.CreateRootContext(ctx, "topic a", PriorityNormal, "user")
	b, _ := orch.CreateRootContext(ctx, "topic b", PriorityNormal, "user")

	if _, err := orch.AddCrossRef(ctx, a.ID, b.ID, orchestrator.RefRelatedTo, "agent-1", 0.5, "looks related"); err != nil {
		t.Fatalf("AddCrossRef failed: %v", err)
	}

	prompts, err := l.GetValidationPrompts(a.ID, []string{b.ID}, nil)
	if err != nil {
		t.Fatalf("GetValidationPrompts failed: %v", err)
	}
	if len(prompts.Inline) != 1 {
		t.Fatalf("inline prompts = %d, want 1", len(prompts.Inline))
	}
	if prompts.Inline[0].TargetContextID != b.ID {
		t.Errorf("prompt target = %s, want %s", prompts.Inline[0].TargetContextID, b.ID)
	}

	// A validated ref disappears from prompt output.
	if err := orch.ValidateCrossRef(ctx, a.ID, b.ID, true, "curator"); err != nil {
		t.Fatalf("ValidateCrossRef failed: %v", err)
	}
	prompts, err = l.GetValidationPrompts(a.ID, []string{b.ID}, nil)
	if err != nil {
		t.Fatalf("GetValidationPrompts failed: %v", err)
	}
	if len(prompts.Inline) != 0 || len(prompts.Scratchpad) != 0 {
		t.Errorf("validated ref still surfaced: %+v", prompts)
	}
}

func TestYarnBoardThroughFacade(t *testing.T) {
	l, _ := newLoom(t)
	ctx := context.Background()
	orch := l.Orchestrator()

	root, _ := orch.CreateRootContext(ctx, "board root", PriorityNormal, "user")
	child, err := orch.SpawnSidebar(ctx, root.ID, "pinned child", PriorityNormal, "user")
	if err != nil {
		t.Fatalf("SpawnSidebar failed: %v", err)
	}

	childPoint := layout.ContextPointID(child.ID)
	if err := l.SaveLayoutPoint(ctx, root.ID, childPoint, Point{X: 40, Y: 80}); err != nil {
		t.Fatalf("SaveLayoutPoint failed: %v", err)
	}

	board, err := l.RenderYarnBoard(ctx, root.ID)
	if err != nil {
		t.Fatalf("RenderYarnBoard failed: %v", err)
	}
	if _, ok := board.Points[childPoint]; !ok {
		t.Errorf("saved child point missing from board: %+v", board.Points)
	}
	// The root's own node has no saved position yet.
	wantCushion := layout.ContextPointID(root.ID)
	found := false
	for _, id := range board.Cushion {
		if id == wantCushion {
			found = true
		}
	}
	if !found {
		t.Errorf("root node not on cushion: %v", board.Cushion)
	}
}

func TestRouterThroughFacade(t *testing.T) {
	l, svc := newLoom(t)
	ctx := context.Background()

	entry := queue.NewScratchpadEntry("crash in the consolidation path", queue.EntryQuestion, "agent-a")
	res := l.Router().RouteEntry(ctx, entry, "ctx-1")

	if !res.Success || !res.Routed || !res.Queued {
		t.Fatalf("unexpected route result: %+v", res)
	}
	if n := svc.QueueLen(queue.AgentQueueName("debugger")); n != 1 {
		t.Errorf("debugger queue length = %d, want 1", n)
	}
}

func TestFileBackedLoomReopens(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "loom.db")

	l, err := New(Config{DBPath: dbPath})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	root, err := l.Orchestrator().CreateRootContext(ctx, "persistent root", PriorityNormal, "user")
	if err != nil {
		t.Fatalf("CreateRootContext failed: %v", err)
	}
	if err := l.SaveLayoutPoint(ctx, root.ID, layout.ContextPointID(root.ID), Point{X: 1, Y: 2}); err != nil {
		t.Fatalf("SaveLayoutPoint failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	l2, err := New(Config{DBPath: dbPath})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l2.Close()

	// The context store is rebuilt from the audit log alone.
	if err := l2.Orchestrator().Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	got, err := l2.Orchestrator().GetContext(root.ID)
	if err != nil {
		t.Fatalf("GetContext after rebuild failed: %v", err)
	}
	if got.TaskDescription != "persistent root" {
		t.Errorf("rebuilt task = %q", got.TaskDescription)
	}

	p, err := l2.Layout().GetPoint(ctx, root.ID, layout.ContextPointID(root.ID))
	if err != nil {
		t.Fatalf("GetPoint after reopen failed: %v", err)
	}
	if p.X != 1 || p.Y != 2 {
		t.Errorf("reloaded point = %+v", p)
	}

	result, err := l2.Orchestrator().VerifyChain(ctx, 1, "test")
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("chain invalid after reopen: %+v", result)
	}
}
