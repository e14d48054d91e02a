package order_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/vasiliy-maslov/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/checkout-service/internal/notification"
	"github.com/vasiliy-maslov/checkout-service/internal/order"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

type memState struct {
	orders map[int64]*order.Order
	carts  map[string][]cart.Item
}

func (st memState) clone() memState {
	c := memState{
		orders: make(map[int64]*order.Order, len(st.orders)),
		carts:  make(map[string][]cart.Item, len(st.carts)),
	}
	for id, o := range st.orders {
		c.orders[id] = copyOrder(o)
	}
	for user, items := range st.carts {
		c.carts[user] = append([]cart.Item(nil), items...)
	}
	return c
}

func copyOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.Item(nil), o.Items...)
	return &c
}

// memStore is an in-memory ledger. Transactions run one at a time on a copy
// of the state that replaces the committed state only on success.
type memStore struct {
	mu       sync.Mutex
	state    memState
	nextID   int64
	taxRates map[string]*pricing.TaxRate
	shipping *pricing.ShippingRate

	// failCommit makes the next transaction fail after fn succeeded.
	failCommit error
	// raceWinner is committed by a "concurrent" writer right before the next
	// Insert runs.
	raceWinner *order.Order
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			orders: map[int64]*order.Order{},
			carts:  map[string][]cart.Item{},
		},
		taxRates: map[string]*pricing.TaxRate{},
	}
}

func (s *memStore) seedOrder(o *order.Order) *order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	s.state.orders[o.ID] = copyOrder(o)
	return o
}

func (s *memStore) seedCart(userID string, items ...cart.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.carts[userID] = append(s.state.carts[userID], items...)
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *memStore) cartSize(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.carts[userID])
}

func (s *memStore) InTx(ctx context.Context, fn func(tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		return err
	}
	s.state = tx.state
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findByID(s.state, id)
}

func (s *memStore) GetByPaymentIntentID(ctx context.Context, intentID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findByIntent(s.state, intentID)
}

func (s *memStore) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findBySession(s.state, sessionID)
}

func (s *memStore) ListByUserID(ctx context.Context, userID string) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []order.Order{}
	for _, o := range s.state.orders {
		if o.UserID == userID {
			result = append(result, *copyOrder(o))
		}
	}
	return result, nil
}

func (s *memStore) CartItems(ctx context.Context, userID string) ([]cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cart.Item{}, s.state.carts[userID]...), nil
}

func (s *memStore) ActiveTaxRate(ctx context.Context, stateCode string) (*pricing.TaxRate, error) {
	if r, ok := s.taxRates[stateCode]; ok {
		return r, nil
	}
	return nil, pricing.ErrRateNotFound
}

func (s *memStore) DefaultShippingRate(ctx context.Context) (*pricing.ShippingRate, error) {
	if s.shipping == nil {
		return nil, pricing.ErrRateNotFound
	}
	return s.shipping, nil
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return findByID(t.state, id)
}

func (t *memTx) GetByIDForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return findByID(t.state, id)
}

func (t *memTx) GetByPaymentIntentID(ctx context.Context, intentID string) (*order.Order, error) {
	return findByIntent(t.state, intentID)
}

func (t *memTx) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	return findBySession(t.state, sessionID)
}

func (t *memTx) CartItems(ctx context.Context, userID string) ([]cart.Item, error) {
	return append([]cart.Item{}, t.state.carts[userID]...), nil
}

func (t *memTx) ClearCart(ctx context.Context, userID string) error {
	delete(t.state.carts, userID)
	return nil
}

func (t *memTx) ActiveTaxRate(ctx context.Context, stateCode string) (*pricing.TaxRate, error) {
	return t.store.ActiveTaxRate(ctx, stateCode)
}

func (t *memTx) DefaultShippingRate(ctx context.Context) (*pricing.ShippingRate, error) {
	return t.store.DefaultShippingRate(ctx)
}

func (t *memTx) Insert(ctx context.Context, o *order.Order) error {
	s := t.store
	if w := s.raceWinner; w != nil {
		s.raceWinner = nil
		s.nextID++
		w.ID = s.nextID
		s.state.orders[w.ID] = copyOrder(w)
	}

	if conflicts(s.state, o) || conflicts(t.state, o) {
		return order.ErrDuplicatePaymentIntent
	}

	s.nextID++
	o.ID = s.nextID
	for i := range o.Items {
		o.Items[i].ID = int64(i + 1)
		o.Items[i].OrderID = o.ID
	}
	t.state.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *memTx) UpdateStatus(ctx context.Context, o *order.Order) error {
	if _, ok := t.state.orders[o.ID]; !ok {
		return order.ErrOrderNotFound
	}
	t.state.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *memTx) Settle(ctx context.Context, o *order.Order) error {
	if _, ok := t.state.orders[o.ID]; !ok {
		return order.ErrOrderNotFound
	}
	if conflicts(t.state, o) {
		return order.ErrDuplicatePaymentIntent
	}
	t.state.orders[o.ID] = copyOrder(o)
	return nil
}

// conflicts reports whether another order in st holds the payment intent
// or the checkout session of o.
func conflicts(st memState, o *order.Order) bool {
	if o.PaymentIntentID != nil {
		if other, err := findByIntent(st, *o.PaymentIntentID); err == nil && other.ID != o.ID {
			return true
		}
	}
	if o.CheckoutSessionID != nil {
		if other, err := findBySession(st, *o.CheckoutSessionID); err == nil && other.ID != o.ID {
			return true
		}
	}
	return false
}

func findByID(st memState, id int64) (*order.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func findByIntent(st memState, intentID string) (*order.Order, error) {
	for _, o := range st.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			return copyOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func findBySession(st memState, sessionID string) (*order.Order, error) {
	for _, o := range st.orders {
		if o.CheckoutSessionID != nil && *o.CheckoutSessionID == sessionID {
			return copyOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*checkout.Session
	getErr   error
	created  []checkout.CreateSessionParams
	getCalls int
}

func newFakeGateway(sessions ...*checkout.Session) *fakeGateway {
	g := &fakeGateway{sessions: map[string]*checkout.Session{}}
	for _, s := range sessions {
		g.sessions[s.ID] = s
	}
	return g
}

func (g *fakeGateway) CreateSession(ctx context.Context, params checkout.CreateSessionParams) (*checkout.SessionRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, params)
	id := fmt.Sprintf("cs_test_%d", len(g.created))
	return &checkout.SessionRef{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (g *fakeGateway) GetSession(ctx context.Context, id string, expandLineItems bool) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	c := *s
	if !expandLineItems {
		c.LineItems = nil
	}
	return &c, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []*notification.Notification
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, n *notification.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return p.err
}

func (p *recordingPublisher) titles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	titles := make([]string, 0, len(p.sent))
	for _, n := range p.sent {
		titles = append(titles, n.Title)
	}
	return titles
}
