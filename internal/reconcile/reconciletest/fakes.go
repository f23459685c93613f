package reconciletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/safar/autoshop-checkout/internal/gateway"
	"github.com/safar/autoshop-checkout/internal/reconcile"
)

// Gateway records calls and answers from its configured fields.
type Gateway struct {
	mu sync.Mutex

	Sessions  map[string]*gateway.CheckoutSession
	Refunds   []gateway.RefundRequest
	Checkouts []gateway.CheckoutRequest

	CheckoutErr error
	SessionErr  error
	RefundErr   error
}

func NewGateway() *Gateway {
	return &Gateway{Sessions: make(map[string]*gateway.CheckoutSession)}
}

// PaySession registers a checkout session that settled with paymentID.
func (g *Gateway) PaySession(sessionID, paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Sessions[sessionID] = &gateway.CheckoutSession{
		ID:     sessionID,
		Status: "active",
		Payments: []gateway.Payment{
			{ID: paymentID, Status: gateway.PaymentStatusPaid},
		},
	}
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CheckoutErr != nil {
		return nil, g.CheckoutErr
	}
	g.Checkouts = append(g.Checkouts, req)

	id := "cs_" + uuid.NewString()
	session := &gateway.CheckoutSession{
		ID:          id,
		CheckoutURL: "https://checkout.example/" + id,
		Status:      "active",
	}
	g.Sessions[id] = session
	return session, nil
}

func (g *Gateway) GetCheckoutSession(_ context.Context, id string) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.SessionErr != nil {
		return nil, g.SessionErr
	}
	session, ok := g.Sessions[id]
	if !ok {
		return nil, &gateway.APIError{StatusCode: 404, Detail: fmt.Sprintf("checkout session %s not found", id)}
	}
	cp := *session
	return &cp, nil
}

func (g *Gateway) CreateRefund(_ context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.RefundErr != nil {
		return nil, g.RefundErr
	}
	g.Refunds = append(g.Refunds, req)

	return &gateway.Refund{
		ID:        "ref_" + uuid.NewString(),
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Currency:  "PHP",
		Reason:    req.Reason,
		Status:    "pending",
	}, nil
}

func (g *Gateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}

type Published struct {
	EventType string
	Key       string
	Payload   any
}

// Publisher keeps every published event.
type Publisher struct {
	mu     sync.Mutex
	events []Published
	Err    error
}

func (p *Publisher) Publish(_ context.Context, eventType, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, Published{EventType: eventType, Key: key, Payload: payload})
	return nil
}

func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.events...)
}

// Cache is a map-backed status cache with per-transaction generations.
type Cache struct {
	mu          sync.Mutex
	views       map[string]reconcile.StatusView
	generations map[string]int64
	Invalidated []string
}

func NewCache() *Cache {
	return &Cache{
		views:       make(map[string]reconcile.StatusView),
		generations: make(map[string]int64),
	}
}

func (c *Cache) Get(_ context.Context, id string) (*reconcile.StatusView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[id]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *Cache) Generation(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[id], nil
}

func (c *Cache) Set(_ context.Context, view reconcile.StatusView, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[view.TransactionID] != generation {
		return nil
	}
	c.views[view.TransactionID] = view
	return nil
}

func (c *Cache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[id]++
	delete(c.views, id)
	c.Invalidated = append(c.Invalidated, id)
	return nil
}

// Guard is an in-process refund guard.
type Guard struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewGuard() *Guard {
	return &Guard{held: make(map[string]bool)}
}

func (g *Guard) Acquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] {
		return nil, false, nil
	}
	g.held[key] = true
	return func() {
		g.mu.Lock()
		delete(g.held, key)
		g.mu.Unlock()
	}, true, nil
}

// Hold takes key without releasing it.
func (g *Guard) Hold(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held[key] = true
}
