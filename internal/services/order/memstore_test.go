package order

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"table-orders/internal/logger"
	"table-orders/internal/models"
)

// memStore is an in-memory Store. Each transaction works on a copy of the
// state that replaces the committed state only when fn succeeds.
type memStore struct {
	mu        sync.Mutex
	state     *memState
	txCount   int
	commits   int
	failOn    string
	failErr   error
	pingError error
}

type memState struct {
	items       map[string]models.CatalogItem
	orders      map[int64]models.Order
	lines       []models.LineItem
	history     map[int64][]models.StatusLogEntry
	nextOrderID int64
}

func newMemStore(catalog map[string]string) *memStore {
	st := &memState{
		items:   map[string]models.CatalogItem{},
		orders:  map[int64]models.Order{},
		history: map[int64][]models.StatusLogEntry{},
	}
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		st.items[name] = models.CatalogItem{
			ID:    int64(i + 1),
			Name:  name,
			Price: decimal.RequireFromString(catalog[name]),
		}
	}
	return &memStore{state: st}
}

func (s *memState) clone() *memState {
	c := &memState{
		items:       s.items,
		orders:      make(map[int64]models.Order, len(s.orders)),
		lines:       append([]models.LineItem(nil), s.lines...),
		history:     make(map[int64][]models.StatusLogEntry, len(s.history)),
		nextOrderID: s.nextOrderID,
	}
	for id, o := range s.orders {
		c.orders[id] = o
	}
	for id, h := range s.history {
		c.history[id] = append([]models.StatusLogEntry(nil), h...)
	}
	return c
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work, store: s}); err != nil {
		return err
	}
	s.state = work
	s.commits++
	return nil
}

func (s *memStore) GetOrder(_ context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[orderID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	o.Items = s.state.linesOf(orderID)
	return &o, nil
}

func (s *memStore) OrderHistory(_ context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StatusLogEntry(nil), s.state.history[orderID]...), nil
}

func (s *memStore) Ping(context.Context) error { return s.pingError }

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *memStore) lineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.lines)
}

func (s *memState) linesOf(orderID int64) []models.LineItem {
	var out []models.LineItem
	for _, li := range s.lines {
		if li.OrderID == orderID {
			out = append(out, li)
		}
	}
	return out
}

type memTx struct {
	st    *memState
	store *memStore
}

func (t *memTx) fail(op string) error {
	if t.store.failOn == op {
		if t.store.failErr != nil {
			return t.store.failErr
		}
		return errors.New("connection reset by peer")
	}
	return nil
}

func (t *memTx) FindItemByName(_ context.Context, name string) (*models.CatalogItem, error) {
	if err := t.fail("FindItemByName"); err != nil {
		return nil, err
	}
	item, ok := t.st.items[name]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &item, nil
}

func (t *memTx) InsertOrder(_ context.Context, order *models.Order) (int64, error) {
	if err := t.fail("InsertOrder"); err != nil {
		return 0, err
	}
	t.st.nextOrderID++
	o := *order
	o.ID = t.st.nextOrderID
	o.Items = nil
	t.st.orders[o.ID] = o
	return o.ID, nil
}

func (t *memTx) InsertLineItem(_ context.Context, item models.LineItem) error {
	if err := t.fail("InsertLineItem"); err != nil {
		return err
	}
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return errors.New("foreign key violation")
	}
	t.st.lines = append(t.st.lines, item)
	return nil
}

func (t *memTx) SetOrderTotal(_ context.Context, orderID int64, total decimal.Decimal) error {
	if err := t.fail("SetOrderTotal"); err != nil {
		return err
	}
	o := t.st.orders[orderID]
	o.TotalAmount = total
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) FindOrderBySession(_ context.Context, sessionID string) (*models.Order, error) {
	if err := t.fail("FindOrderBySession"); err != nil {
		return nil, err
	}
	var found *models.Order
	newer := func(o, than models.Order) bool {
		if (o.Status == models.StatusPlaced) != (than.Status == models.StatusPlaced) {
			return o.Status == models.StatusPlaced
		}
		return o.OrderDate.After(than.OrderDate) ||
			(o.OrderDate.Equal(than.OrderDate) && o.ID > than.ID)
	}
	for _, o := range t.st.orders {
		if o.SessionID == nil || *o.SessionID != sessionID {
			continue
		}
		if found == nil || newer(o, *found) {
			o := o
			found = &o
		}
	}
	if found == nil {
		return nil, ErrRecordNotFound
	}
	return found, nil
}

func (t *memTx) FindOrderByID(_ context.Context, orderID int64) (*models.Order, error) {
	if err := t.fail("FindOrderByID"); err != nil {
		return nil, err
	}
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &o, nil
}

func (t *memTx) DeleteLineItems(_ context.Context, orderID int64) error {
	if err := t.fail("DeleteLineItems"); err != nil {
		return err
	}
	kept := t.st.lines[:0:0]
	for _, li := range t.st.lines {
		if li.OrderID != orderID {
			kept = append(kept, li)
		}
	}
	t.st.lines = kept
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, orderID int64) error {
	if err := t.fail("DeleteOrder"); err != nil {
		return err
	}
	delete(t.st.orders, orderID)
	delete(t.st.history, orderID)
	return nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	if err := t.fail("UpdateOrderStatus"); err != nil {
		return false, err
	}
	o, ok := t.st.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	t.st.orders[orderID] = o
	return true, nil
}

func (t *memTx) InsertStatusLog(_ context.Context, orderID int64, status models.OrderStatus, at time.Time, notes string) error {
	if err := t.fail("InsertStatusLog"); err != nil {
		return err
	}
	n := notes
	t.st.history[orderID] = append(t.st.history[orderID], models.StatusLogEntry{
		Status:    status,
		ChangedAt: at,
		Notes:     &n,
	})
	return nil
}

func testLogger() *logger.Logger {
	return logger.NewWithOptions("order-service", logger.Options{Level: "error", Output: io.Discard})
}

// newTestService wires a service to a memStore with a clock that advances
// one second per call.
func newTestService(store Store, opts Options) *Service {
	svc := NewService(store, opts, testLogger())
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

var _ Store = (*memStore)(nil)
