package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/rxdesk/internal/query"
)

type mockLoader struct {
	mu     sync.Mutex
	levels map[string]map[string]int64
	err    error
	calls  int
}

func (m *mockLoader) StockLevels(_ context.Context, wh string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]int64)
	for k, v := range m.levels[wh] {
		out[k] = v
	}
	return out, nil
}

func (m *mockLoader) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestProjection(loader *mockLoader) *Projection {
	return NewProjection(query.New(), loader, time.Hour, nil)
}

func TestLevels_LoadsOnceWhileFresh(t *testing.T) {
	loader := &mockLoader{levels: map[string]map[string]int64{"wh1": {"amox": 40}}}
	p := newTestProjection(loader)

	for i := 0; i < 3; i++ {
		lv, err := p.Levels(context.Background(), "wh1")
		if err != nil {
			t.Fatalf("Levels: %v", err)
		}
		if lv["amox"] != 40 {
			t.Errorf("amox = %d, want 40", lv["amox"])
		}
	}
	if n := loader.callCount(); n != 1 {
		t.Errorf("loader calls = %d, want 1", n)
	}
}

func TestLevels_ErrorWithoutData(t *testing.T) {
	boom := errors.New("db down")
	p := newTestProjection(&mockLoader{err: boom})
	if _, err := p.Levels(context.Background(), "wh1"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestApplyDeltas(t *testing.T) {
	loader := &mockLoader{levels: map[string]map[string]int64{"wh1": {"amox": 40, "para": 10}}}
	p := newTestProjection(loader)
	ctx := context.Background()

	if _, err := p.Levels(ctx, "wh1"); err != nil {
		t.Fatal(err)
	}
	err := p.ApplyDeltas(ctx, "wh1", []Delta{
		{EntityID: "amox", QuantityChange: -3},
		{EntityID: "para", QuantityChange: -10},
		{EntityID: "new", QuantityChange: 5},
	})
	if err != nil {
		t.Fatalf("ApplyDeltas: %v", err)
	}

	lv, _ := p.Levels(ctx, "wh1")
	if lv["amox"] != 37 || lv["para"] != 0 || lv["new"] != 5 {
		t.Errorf("levels = %v", lv)
	}
	if n := loader.callCount(); n != 1 {
		t.Errorf("loader calls = %d, want 1 (deltas must not reload)", n)
	}
}

func TestApplyDeltas_UnloadedWarehouseSkipped(t *testing.T) {
	loader := &mockLoader{levels: map[string]map[string]int64{"wh2": {"amox": 7}}}
	p := newTestProjection(loader)
	ctx := context.Background()

	if err := p.ApplyDeltas(ctx, "wh2", []Delta{{EntityID: "amox", QuantityChange: -1}}); err != nil {
		t.Fatal(err)
	}
	lv, err := p.Levels(ctx, "wh2")
	if err != nil {
		t.Fatal(err)
	}
	if lv["amox"] != 7 {
		t.Errorf("amox = %d, want authoritative 7", lv["amox"])
	}
}

func TestLevels_ReturnsCopy(t *testing.T) {
	p := newTestProjection(&mockLoader{levels: map[string]map[string]int64{"wh1": {"a": 1}}})
	ctx := context.Background()
	lv, _ := p.Levels(ctx, "wh1")
	lv["a"] = 99
	again, _ := p.Levels(ctx, "wh1")
	if again["a"] != 1 {
		t.Errorf("cached levels mutated through returned map: %v", again)
	}
}

func TestReplace_NotifiesSubscribers(t *testing.T) {
	p := newTestProjection(&mockLoader{levels: map[string]map[string]int64{"wh1": {"a": 1}}})
	ctx := context.Background()

	sub := p.Subscribe(ctx, "wh1")
	defer sub.Close()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := query.Value[Levels](sub.Snapshot()); ok {
			break
		}
		select {
		case <-sub.Changes():
		case <-deadline:
			t.Fatal("initial load not observed")
		}
	}
	// Drain any signal left over from the load.
	select {
	case <-sub.Changes():
	default:
	}

	if err := p.Replace(ctx, "wh1", Levels{"a": 12}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no change after Replace")
	}
	lv, _ := query.Value[Levels](sub.Snapshot())
	if lv["a"] != 12 {
		t.Errorf("a = %d, want 12", lv["a"])
	}
}

func TestReplace_RestartsFreshness(t *testing.T) {
	loader := &mockLoader{levels: map[string]map[string]int64{"wh1": {"a": 1}}}
	clk := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	p := NewProjection(query.New(query.WithClock(clk)), loader, time.Hour, nil)
	ctx := context.Background()

	if _, err := p.Levels(ctx, "wh1"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(50 * time.Minute)
	if err := p.Replace(ctx, "wh1", Levels{"a": 7}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(30 * time.Minute)

	lv, err := p.Levels(ctx, "wh1")
	if err != nil {
		t.Fatal(err)
	}
	if lv["a"] != 7 {
		t.Errorf("a = %d, want 7 from the reconcile", lv["a"])
	}
	if n := loader.callCount(); n != 1 {
		t.Errorf("loader calls = %d, want 1", n)
	}
}
