package tabs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalambet/rxdesk/internal/inventory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}
}

func newTestWorkspace(opts ...Option) *Workspace {
	base := []Option{
		WithClock(fixedClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}),
		WithIDs(seqIDs()),
	}
	return NewWorkspace(KindPOS, append(base, opts...)...)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockSink struct {
	mu     sync.Mutex
	wh     string
	deltas []inventory.Delta
	calls  int
}

func (m *mockSink) ApplyDeltas(_ context.Context, wh string, d []inventory.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.wh = wh
	m.deltas = append(m.deltas, d...)
	return nil
}

func okCommitter(ref string) Committer {
	return CommitFunc(func(_ context.Context, t Tab) (Result, error) {
		return Result{Reference: ref, Total: ComputeTotals(t).TotalAmount}, nil
	})
}

func TestNewWorkspace_HasOneTab(t *testing.T) {
	w := newTestWorkspace()
	tabs := w.Tabs()
	if len(tabs) != 1 {
		t.Fatalf("len(tabs) = %d, want 1", len(tabs))
	}
	if w.ActiveID() != tabs[0].ID {
		t.Errorf("active = %q, want %q", w.ActiveID(), tabs[0].ID)
	}
	if tabs[0].Title != "Cart 1" || tabs[0].Status != StatusIdle {
		t.Errorf("tab = %+v", tabs[0])
	}
}

func TestAddItem_UpsertsByEntity(t *testing.T) {
	w := newTestWorkspace()

	if _, err := w.AddItem("", Item{EntityID: "X", Name: "Amoxicillin", Quantity: 3, UnitPrice: dec("10")}); err != nil {
		t.Fatal(err)
	}
	line, err := w.AddItem("", Item{EntityID: "X", Name: "Amoxicillin", Quantity: 2, UnitPrice: dec("10")})
	if err != nil {
		t.Fatal(err)
	}

	tab := w.Active()
	if len(tab.Lines) != 1 {
		t.Fatalf("len(lines) = %d, want 1", len(tab.Lines))
	}
	if tab.Lines[0].Quantity != 5 {
		t.Errorf("quantity = %d, want 5", tab.Lines[0].Quantity)
	}
	if !tab.Lines[0].TotalPrice.Equal(dec("50")) {
		t.Errorf("total = %s, want 50", tab.Lines[0].TotalPrice)
	}
	if line.Key != tab.Lines[0].Key {
		t.Errorf("returned line key %q != stored %q", line.Key, tab.Lines[0].Key)
	}
}

func TestAddItem_RejectsNonPositiveQuantity(t *testing.T) {
	w := newTestWorkspace()
	if _, err := w.AddItem("", Item{EntityID: "X", Quantity: 0}); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("err = %v, want ErrInvalidQuantity", err)
	}
}

func TestAddItem_RejectsQuantityOverflow(t *testing.T) {
	w := newTestWorkspace()
	if _, err := w.AddItem("", Item{EntityID: "X", Quantity: math.MaxInt64 - 1, UnitPrice: dec("1")}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddItem("", Item{EntityID: "X", Quantity: 2, UnitPrice: dec("1")}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
	got := w.Active().Lines
	if len(got) != 1 || got[0].Quantity != math.MaxInt64-1 {
		t.Errorf("lines = %+v, want the original quantity kept", got)
	}
	if _, err := w.AddItem("", Item{EntityID: "X", Quantity: 1, UnitPrice: dec("1")}); err != nil {
		t.Errorf("adding up to the limit: %v", err)
	}
}

func TestUpdateItem_RecomputesTotal(t *testing.T) {
	w := newTestWorkspace()
	l, _ := w.AddItem("", Item{EntityID: "X", Quantity: 1, UnitPrice: dec("12.50")})

	qty := int64(4)
	price := dec("11.25")
	got, err := w.UpdateItem("", l.Key, Patch{Quantity: &qty, UnitPrice: &price})
	if err != nil {
		t.Fatal(err)
	}
	if !got.TotalPrice.Equal(dec("45")) {
		t.Errorf("total = %s, want 45", got.TotalPrice)
	}

	if _, err := w.UpdateItem("", "missing", Patch{Quantity: &qty}); !errors.Is(err, ErrLineNotFound) {
		t.Errorf("err = %v, want ErrLineNotFound", err)
	}
}

func TestRemoveItemAndClear(t *testing.T) {
	w := newTestWorkspace()
	a, _ := w.AddItem("", Item{EntityID: "A", Quantity: 1, UnitPrice: dec("1")})
	w.AddItem("", Item{EntityID: "B", Quantity: 1, UnitPrice: dec("1")})
	w.SetParty("", "cust-1")

	if err := w.RemoveItem("", a.Key); err != nil {
		t.Fatal(err)
	}
	if tab := w.Active(); len(tab.Lines) != 1 || tab.Lines[0].EntityID != "B" {
		t.Errorf("lines = %+v", tab.Lines)
	}
	if err := w.Clear(""); err != nil {
		t.Fatal(err)
	}
	tab := w.Active()
	if len(tab.Lines) != 0 {
		t.Errorf("lines after Clear = %+v", tab.Lines)
	}
	if tab.Party != "cust-1" {
		t.Errorf("Clear dropped party selection")
	}
}

func TestTotals(t *testing.T) {
	w := newTestWorkspace()
	w.AddItem("", Item{EntityID: "X", Quantity: 4, UnitPrice: dec("250")})
	w.SetDiscountPercent("", dec("10"))
	w.SetTaxPercent("", dec("10"))

	tot, err := w.Totals("")
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"subtotal", tot.Subtotal, "1000"},
		{"discount", tot.DiscountAmount, "100"},
		{"taxable", tot.TaxableAmount, "900"},
		{"tax", tot.TaxAmount, "90"},
		{"total", tot.TotalAmount, "990"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestSetPercent_Validates(t *testing.T) {
	w := newTestWorkspace()
	if err := w.SetDiscountPercent("", dec("101")); !errors.Is(err, ErrInvalidPercent) {
		t.Errorf("err = %v", err)
	}
	if err := w.SetTaxPercent("", dec("-1")); !errors.Is(err, ErrInvalidPercent) {
		t.Errorf("err = %v", err)
	}
}

func TestSetFormField(t *testing.T) {
	w := newTestWorkspace()
	w.SetFormField("", "prescription", "RX-77")
	if got := w.Active().Form["prescription"]; got != "RX-77" {
		t.Errorf("form = %q", got)
	}
	w.SetFormField("", "prescription", "")
	if _, ok := w.Active().Form["prescription"]; ok {
		t.Error("empty value did not delete field")
	}
}

func TestCreateSwitchClose(t *testing.T) {
	w := newTestWorkspace()
	first := w.ActiveID()
	second := w.CreateTab("Walk-in")
	if w.ActiveID() != second.ID {
		t.Error("CreateTab did not activate the new tab")
	}
	if err := w.SwitchTab(first); err != nil {
		t.Fatal(err)
	}
	if err := w.SwitchTab("nope"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("err = %v, want ErrTabNotFound", err)
	}
	if tab, ok := w.TabAt(1); !ok || tab.Title != "Walk-in" {
		t.Errorf("TabAt(1) = %+v, %v", tab, ok)
	}
	if _, ok := w.TabAt(2); ok {
		t.Error("TabAt(2) ok on two tabs")
	}

	if err := w.CloseTab(first); err != nil {
		t.Fatal(err)
	}
	if w.ActiveID() != second.ID {
		t.Errorf("active = %q after closing active first tab, want %q", w.ActiveID(), second.ID)
	}
}

func TestCloseTab_LastResets(t *testing.T) {
	w := newTestWorkspace()
	id := w.ActiveID()
	w.AddItem("", Item{EntityID: "X", Quantity: 1, UnitPrice: dec("1")})
	w.SetParty("", "cust-1")

	if err := w.CloseTab(id); err != nil {
		t.Fatal(err)
	}
	tabs := w.Tabs()
	if len(tabs) != 1 || tabs[0].ID != id {
		t.Fatalf("tabs = %+v", tabs)
	}
	if len(tabs[0].Lines) != 0 || tabs[0].Party != "" {
		t.Errorf("tab not reset: %+v", tabs[0])
	}
}

func TestCommit_RemovesTabWhenOthersRemain(t *testing.T) {
	w := newTestWorkspace()
	a := w.ActiveID()
	b := w.CreateTab("")
	w.SwitchTab(a)
	w.AddItem(a, Item{EntityID: "X", Quantity: 2, UnitPrice: dec("5")})

	res, err := w.Commit(context.Background(), a, okCommitter("S-1"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Reference != "S-1" {
		t.Errorf("reference = %q", res.Reference)
	}
	tabs := w.Tabs()
	if len(tabs) != 1 || tabs[0].ID != b.ID {
		t.Fatalf("tabs = %+v, want only %s", tabs, b.ID)
	}
	if w.ActiveID() != b.ID {
		t.Errorf("active = %q, want %q", w.ActiveID(), b.ID)
	}
}

func TestCommit_ResetsLastTab(t *testing.T) {
	w := newTestWorkspace()
	id := w.ActiveID()
	w.AddItem("", Item{EntityID: "X", Quantity: 2, UnitPrice: dec("5")})

	if _, err := w.Commit(context.Background(), "", okCommitter("S-2")); err != nil {
		t.Fatal(err)
	}
	tabs := w.Tabs()
	if len(tabs) != 1 {
		t.Fatalf("len(tabs) = %d, want 1", len(tabs))
	}
	if tabs[0].ID != id || len(tabs[0].Lines) != 0 || tabs[0].Status != StatusIdle {
		t.Errorf("tab = %+v, want reset in place", tabs[0])
	}
}

func TestCommit_ActivationMovesToPreviousIndex(t *testing.T) {
	w := newTestWorkspace()
	w.CreateTab("")
	third := w.CreateTab("")
	second, _ := w.TabAt(1)
	w.SwitchTab(third.ID)

	if _, err := w.Commit(context.Background(), third.ID, okCommitter("r")); err != nil {
		t.Fatal(err)
	}
	if w.ActiveID() != second.ID {
		t.Errorf("active = %q, want %q", w.ActiveID(), second.ID)
	}
}

func TestCommit_NonActiveKeepsActivation(t *testing.T) {
	w := newTestWorkspace()
	first := w.ActiveID()
	second := w.CreateTab("")

	if _, err := w.Commit(context.Background(), first, okCommitter("r")); err != nil {
		t.Fatal(err)
	}
	if w.ActiveID() != second.ID {
		t.Errorf("active = %q, want %q", w.ActiveID(), second.ID)
	}
}

func TestCommit_FailureKeepsLines(t *testing.T) {
	w := newTestWorkspace()
	w.AddItem("", Item{EntityID: "X", Quantity: 2, UnitPrice: dec("5")})
	boom := errors.New("payment gateway timeout")

	_, err := w.Commit(context.Background(), "", CommitFunc(func(context.Context, Tab) (Result, error) {
		return Result{}, boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	tab := w.Active()
	if tab.Status != StatusError || tab.LastError != boom.Error() {
		t.Errorf("status = %s, last error = %q", tab.Status, tab.LastError)
	}
	if len(tab.Lines) != 1 || tab.Lines[0].Quantity != 2 {
		t.Errorf("lines changed after failure: %+v", tab.Lines)
	}

	// Retry from error is allowed and clears the message.
	if _, err := w.Commit(context.Background(), "", okCommitter("S-3")); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestCommit_BusyWhileSubmitting(t *testing.T) {
	w := newTestWorkspace()
	id := w.ActiveID()
	w.AddItem("", Item{EntityID: "X", Quantity: 1, UnitPrice: dec("1")})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := w.Commit(context.Background(), id, CommitFunc(func(context.Context, Tab) (Result, error) {
			close(started)
			<-release
			return Result{}, nil
		}))
		done <- err
	}()
	<-started

	if _, err := w.Commit(context.Background(), id, okCommitter("dup")); !errors.Is(err, ErrTabBusy) {
		t.Errorf("second Commit err = %v, want ErrTabBusy", err)
	}
	if _, err := w.AddItem(id, Item{EntityID: "Y", Quantity: 1}); !errors.Is(err, ErrTabBusy) {
		t.Errorf("AddItem err = %v, want ErrTabBusy", err)
	}
	if err := w.CloseTab(id); !errors.Is(err, ErrTabBusy) {
		t.Errorf("CloseTab err = %v, want ErrTabBusy", err)
	}
	if tab, _ := w.Tab(id); tab.Status != StatusSubmitting {
		t.Errorf("status = %s, want submitting", tab.Status)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestCommit_AppliesInventoryDeltas(t *testing.T) {
	sink := &mockSink{}
	w := newTestWorkspace(WithInventory(sink))
	w.SetWarehouse("", "wh1")
	w.AddItem("", Item{EntityID: "A", Quantity: 3, UnitPrice: dec("1")})
	w.AddItem("", Item{EntityID: "B", Quantity: 1, UnitPrice: dec("1")})

	if _, err := w.Commit(context.Background(), "", okCommitter("r")); err != nil {
		t.Fatal(err)
	}
	if sink.calls != 1 || sink.wh != "wh1" {
		t.Fatalf("sink calls = %d, wh = %q", sink.calls, sink.wh)
	}
	want := []inventory.Delta{{EntityID: "A", QuantityChange: -3}, {EntityID: "B", QuantityChange: -1}}
	if len(sink.deltas) != len(want) {
		t.Fatalf("deltas = %+v", sink.deltas)
	}
	for i := range want {
		if sink.deltas[i] != want[i] {
			t.Errorf("delta[%d] = %+v, want %+v", i, sink.deltas[i], want[i])
		}
	}
}

func TestCommit_ResultDeltasOverride(t *testing.T) {
	sink := &mockSink{}
	w := newTestWorkspace(WithInventory(sink))
	w.SetWarehouse("", "wh1")
	w.AddItem("", Item{EntityID: "A", Quantity: 3, UnitPrice: dec("1")})
	w.AddItem("", Item{EntityID: "B", Quantity: 1, UnitPrice: dec("1")})

	_, err := w.Commit(context.Background(), "", CommitFunc(func(context.Context, Tab) (Result, error) {
		return Result{Deltas: []inventory.Delta{{EntityID: "A", QuantityChange: -3}}, FailedLines: []string{"B"}}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.deltas) != 1 || sink.deltas[0].EntityID != "A" {
		t.Errorf("deltas = %+v", sink.deltas)
	}
}

func TestCommit_FailureSkipsInventory(t *testing.T) {
	sink := &mockSink{}
	w := newTestWorkspace(WithInventory(sink))
	w.SetWarehouse("", "wh1")
	w.AddItem("", Item{EntityID: "A", Quantity: 1, UnitPrice: dec("1")})

	w.Commit(context.Background(), "", CommitFunc(func(context.Context, Tab) (Result, error) {
		return Result{}, errors.New("nope")
	}))
	if sink.calls != 0 {
		t.Errorf("sink called %d times on failure", sink.calls)
	}
}

func TestHooks(t *testing.T) {
	var created, removed []string
	w := newTestWorkspace(WithHooks(Hooks{
		Created: func(t Tab) { created = append(created, t.ID) },
		Removed: func(t Tab) { removed = append(removed, t.ID) },
	}))
	b := w.CreateTab("")
	w.CloseTab(b.ID)

	if len(created) != 2 || created[0] != "t1" || created[1] != b.ID {
		t.Errorf("created = %v", created)
	}
	if len(removed) != 1 || removed[0] != b.ID {
		t.Errorf("removed = %v", removed)
	}
}

func TestSnapshotRestore(t *testing.T) {
	w := newTestWorkspace()
	w.AddItem("", Item{EntityID: "A", Quantity: 2, UnitPrice: dec("3.5")})
	second := w.CreateTab("Second")
	w.SetParty(second.ID, "cust-9")
	snap := w.Snapshot()

	other := NewWorkspace(KindPOS, WithIDs(seqIDs()))
	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	tabs := other.Tabs()
	if len(tabs) != 2 {
		t.Fatalf("len(tabs) = %d", len(tabs))
	}
	if other.ActiveID() != second.ID {
		t.Errorf("active = %q, want %q", other.ActiveID(), second.ID)
	}
	if !tabs[0].Lines[0].TotalPrice.Equal(dec("7")) {
		t.Errorf("line total = %s", tabs[0].Lines[0].TotalPrice)
	}
	if tabs[1].Party != "cust-9" {
		t.Errorf("party = %q", tabs[1].Party)
	}

	if err := NewWorkspace(KindOrder).Restore(snap); err == nil {
		t.Error("restoring a pos snapshot into an order workspace succeeded")
	}
	if err := other.Restore(Snapshot{Kind: KindPOS}); err == nil {
		t.Error("restoring an empty snapshot succeeded")
	}
}
