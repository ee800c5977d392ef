package tabs

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalambet/rxdesk/internal/inventory"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Hooks observe tab lifecycle. They run after the workspace lock is released.
type Hooks struct {
	Created func(Tab)
	Removed func(Tab)
}

// Option configures a Workspace.
type Option func(*Workspace)

func WithClock(c Clock) Option { return func(w *Workspace) { w.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(w *Workspace) { w.logger = l } }

// WithIDs overrides tab ID generation.
func WithIDs(fn func() string) Option { return func(w *Workspace) { w.newID = fn } }

// WithInventory sets the sink that receives stock deltas after a commit.
func WithInventory(s InventorySink) Option { return func(w *Workspace) { w.sink = s } }

func WithHooks(h Hooks) Option { return func(w *Workspace) { w.hooks = h } }

// Workspace is an ordered set of tabs with one active. It always holds at
// least one tab.
type Workspace struct {
	kind   Kind
	clock  Clock
	logger *slog.Logger
	newID  func() string
	sink   InventorySink
	hooks  Hooks

	mu     sync.Mutex
	tabs   []*Tab
	active string
	seq    int
}

// NewWorkspace creates a workspace holding one empty tab.
func NewWorkspace(kind Kind, opts ...Option) *Workspace {
	w := &Workspace{
		kind:   kind,
		clock:  realClock{},
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(w)
	}

	w.mu.Lock()
	t := w.newTabLocked("")
	w.active = t.ID
	created := t.clone()
	w.mu.Unlock()

	w.emit([]Tab{created}, nil)
	return w
}

// Kind returns the workspace flavour.
func (w *Workspace) Kind() Kind { return w.kind }

func (w *Workspace) newTabLocked(title string) *Tab {
	w.seq++
	if title == "" {
		prefix := "Cart"
		if w.kind == KindOrder {
			prefix = "Order"
		}
		title = fmt.Sprintf("%s %d", prefix, w.seq)
	}
	t := &Tab{
		ID:        w.newID(),
		Title:     title,
		Kind:      w.kind,
		Status:    StatusIdle,
		CreatedAt: w.clock.Now(),
	}
	w.tabs = append(w.tabs, t)
	return t
}

func (w *Workspace) emit(created, removed []Tab) {
	if w.hooks.Removed != nil {
		for _, t := range removed {
			w.hooks.Removed(t)
		}
	}
	if w.hooks.Created != nil {
		for _, t := range created {
			w.hooks.Created(t)
		}
	}
}

// indexLocked resolves id to a slice index. An empty id means the active tab.
func (w *Workspace) indexLocked(id string) (int, error) {
	if id == "" {
		id = w.active
	}
	for i, t := range w.tabs {
		if t.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrTabNotFound, id)
}

// editableLocked returns the tab for id when it is not mid-commit.
func (w *Workspace) editableLocked(id string) (*Tab, error) {
	i, err := w.indexLocked(id)
	if err != nil {
		return nil, err
	}
	t := w.tabs[i]
	if t.Status == StatusSubmitting {
		return nil, fmt.Errorf("%w: %s", ErrTabBusy, t.ID)
	}
	return t, nil
}

// CreateTab appends a tab and makes it active.
func (w *Workspace) CreateTab(title string) Tab {
	w.mu.Lock()
	t := w.newTabLocked(title)
	w.active = t.ID
	out := t.clone()
	w.mu.Unlock()

	w.emit([]Tab{out}, nil)
	return out
}

// CloseTab removes a tab, or resets it when it is the only one.
func (w *Workspace) CloseTab(id string) error {
	w.mu.Lock()
	i, err := w.indexLocked(id)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if w.tabs[i].Status == StatusSubmitting {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTabBusy, w.tabs[i].ID)
	}
	removed := w.cleanupLocked(i, eventClosed)
	w.mu.Unlock()

	w.emit(nil, removed)
	return nil
}

// SwitchTab makes id the active tab.
func (w *Workspace) SwitchTab(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, err := w.indexLocked(id)
	if err != nil {
		return err
	}
	w.active = w.tabs[i].ID
	return nil
}

// Tabs returns copies of all tabs in order.
func (w *Workspace) Tabs() []Tab {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Tab, len(w.tabs))
	for i, t := range w.tabs {
		out[i] = t.clone()
	}
	return out
}

// Active returns a copy of the active tab.
func (w *Workspace) Active() Tab {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, _ := w.indexLocked("")
	return w.tabs[i].clone()
}

// ActiveID returns the active tab's ID.
func (w *Workspace) ActiveID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Tab returns a copy of the tab with id, or the active tab for "".
func (w *Workspace) Tab(id string) (Tab, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, err := w.indexLocked(id)
	if err != nil {
		return Tab{}, err
	}
	return w.tabs[i].clone(), nil
}

// TabAt returns the tab at position i.
func (w *Workspace) TabAt(i int) (Tab, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.tabs) {
		return Tab{}, false
	}
	return w.tabs[i].clone(), true
}

// AddItem adds it to the tab. A line for the same entity has its quantity
// increased instead of a second line being added.
func (w *Workspace) AddItem(id string, it Item) (Line, error) {
	if it.Quantity <= 0 {
		return Line{}, ErrInvalidQuantity
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.editableLocked(id)
	if err != nil {
		return Line{}, err
	}

	for i := range t.Lines {
		if t.Lines[i].EntityID == it.EntityID {
			if t.Lines[i].Quantity > math.MaxInt64-it.Quantity {
				return Line{}, fmt.Errorf("%w: %s would exceed %d", ErrInvalidQuantity, it.EntityID, int64(math.MaxInt64))
			}
			t.Lines[i].Quantity += it.Quantity
			t.Lines[i].recompute()
			return t.Lines[i], nil
		}
	}

	now := w.clock.Now()
	l := Line{
		Key:       fmt.Sprintf("%s-%d", it.EntityID, now.UnixNano()),
		EntityID:  it.EntityID,
		Name:      it.Name,
		LotID:     it.LotID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice,
	}
	l.recompute()
	t.Lines = append(t.Lines, l)
	return l, nil
}

// UpdateItem applies p to the line with lineKey.
func (w *Workspace) UpdateItem(id, lineKey string, p Patch) (Line, error) {
	if p.Quantity != nil && *p.Quantity <= 0 {
		return Line{}, ErrInvalidQuantity
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.editableLocked(id)
	if err != nil {
		return Line{}, err
	}
	i := t.lineIndex(lineKey)
	if i < 0 {
		return Line{}, fmt.Errorf("%w: %s", ErrLineNotFound, lineKey)
	}

	l := &t.Lines[i]
	if p.Quantity != nil {
		l.Quantity = *p.Quantity
	}
	if p.UnitPrice != nil {
		l.UnitPrice = *p.UnitPrice
	}
	if p.LotID != nil {
		l.LotID = *p.LotID
	}
	l.recompute()
	return *l, nil
}

// RemoveItem deletes the line with lineKey.
func (w *Workspace) RemoveItem(id, lineKey string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.editableLocked(id)
	if err != nil {
		return err
	}
	i := t.lineIndex(lineKey)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, lineKey)
	}
	t.Lines = append(t.Lines[:i], t.Lines[i+1:]...)
	return nil
}

// Clear removes every line from the tab. Selections are kept.
func (w *Workspace) Clear(id string) error {
	return w.edit(id, func(t *Tab) error {
		t.Lines = nil
		return nil
	})
}

func (w *Workspace) edit(id string, fn func(*Tab) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.editableLocked(id)
	if err != nil {
		return err
	}
	return fn(t)
}

func (w *Workspace) SetParty(id, party string) error {
	return w.edit(id, func(t *Tab) error { t.Party = party; return nil })
}

func (w *Workspace) SetWarehouse(id, warehouseID string) error {
	return w.edit(id, func(t *Tab) error { t.WarehouseID = warehouseID; return nil })
}

func (w *Workspace) SetLocation(id, locationID string) error {
	return w.edit(id, func(t *Tab) error { t.LocationID = locationID; return nil })
}

func (w *Workspace) SetPaymentMethod(id, method string) error {
	return w.edit(id, func(t *Tab) error { t.PaymentMethod = method; return nil })
}

// SetFormField sets a free-form field. An empty value deletes it.
func (w *Workspace) SetFormField(id, field, value string) error {
	return w.edit(id, func(t *Tab) error {
		if value == "" {
			delete(t.Form, field)
			return nil
		}
		if t.Form == nil {
			t.Form = make(map[string]string)
		}
		t.Form[field] = value
		return nil
	})
}

func (w *Workspace) SetDiscountPercent(id string, p decimal.Decimal) error {
	if !validPercent(p) {
		return ErrInvalidPercent
	}
	return w.edit(id, func(t *Tab) error { t.DiscountPercent = p; return nil })
}

func (w *Workspace) SetTaxPercent(id string, p decimal.Decimal) error {
	if !validPercent(p) {
		return ErrInvalidPercent
	}
	return w.edit(id, func(t *Tab) error { t.TaxPercent = p; return nil })
}

// Totals computes totals for the tab with id.
func (w *Workspace) Totals(id string) (Totals, error) {
	t, err := w.Tab(id)
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(t), nil
}

// Deltas returns the stock deduction for every line of t.
func Deltas(t Tab) []inventory.Delta {
	out := make([]inventory.Delta, 0, len(t.Lines))
	for _, l := range t.Lines {
		out = append(out, inventory.Delta{EntityID: l.EntityID, QuantityChange: -l.Quantity})
	}
	return out
}
