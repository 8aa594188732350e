package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/leolilley/ryeos/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newThread(threadID, parentID string) *models.ThreadMetadata {
	return &models.ThreadMetadata{
		ThreadID:       threadID,
		Directive:      "example.directive",
		ParentThreadID: parentID,
		Status:         models.ThreadCreated,
		ThreadMode:     models.ThreadModeSingle,
	}
}

func TestRegisterAndUpdateStatus(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	id := uuid.NewString()
	if err := r.Register(ctx, newThread(id, "")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.UpdateStatus(ctx, id, models.ThreadRunning); err != nil {
		t.Fatalf("update status: %v", err)
	}

	active, err := r.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Status != models.ThreadRunning {
		t.Fatalf("expected 1 running row, got %+v", active)
	}
}

func TestUpdateCostSnapshotAndListChildren(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	parent := uuid.NewString()
	if err := r.Register(ctx, newThread(parent, "")); err != nil {
		t.Fatalf("register parent: %v", err)
	}
	child := uuid.NewString()
	if err := r.Register(ctx, newThread(child, parent)); err != nil {
		t.Fatalf("register child: %v", err)
	}

	cost := models.Cost{Turns: 3, InputTokens: 100, OutputTokens: 40, Spend: 0.25}
	if err := r.UpdateCostSnapshot(ctx, child, 3, cost); err != nil {
		t.Fatalf("update cost snapshot: %v", err)
	}

	children, err := r.ListChildren(ctx, parent)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(children))
	}
	if children[0].Spend != 0.25 || children[0].TurnCount != 3 {
		t.Fatalf("unexpected snapshot: %+v", children[0])
	}
}

func TestContinuationChainWalksBackwardThenForward(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	root := uuid.NewString()
	if err := r.Register(ctx, newThread(root, "")); err != nil {
		t.Fatalf("register root: %v", err)
	}

	mid := uuid.NewString()
	midMeta := newThread(mid, "")
	midMeta.ContinuationOf = root
	midMeta.ChainRootID = root
	if err := r.Register(ctx, midMeta); err != nil {
		t.Fatalf("register mid: %v", err)
	}
	if err := r.SetContinuation(ctx, root, mid); err != nil {
		t.Fatalf("set continuation on root: %v", err)
	}
	if err := r.SetChainInfo(ctx, mid, root, root); err != nil {
		t.Fatalf("set chain info on mid: %v", err)
	}

	tail := uuid.NewString()
	tailMeta := newThread(tail, "")
	tailMeta.ContinuationOf = mid
	tailMeta.ChainRootID = root
	if err := r.Register(ctx, tailMeta); err != nil {
		t.Fatalf("register tail: %v", err)
	}
	if err := r.SetContinuation(ctx, mid, tail); err != nil {
		t.Fatalf("set continuation on mid: %v", err)
	}
	if err := r.SetChainInfo(ctx, tail, mid, root); err != nil {
		t.Fatalf("set chain info on tail: %v", err)
	}

	chain, err := r.GetChain(ctx, mid)
	if err != nil {
		t.Fatalf("get chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3-thread chain, got %d", len(chain))
	}
	if chain[0].ThreadID != root || chain[1].ThreadID != mid || chain[2].ThreadID != tail {
		t.Fatalf("unexpected chain order: %v", chain)
	}
}

func TestUpdateStatusUnknownThreadFails(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	if err := r.UpdateStatus(ctx, uuid.NewString(), models.ThreadRunning); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
