package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/safar/autoshop-checkout/internal/gateway"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/safar/autoshop-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Repository is the ledger the service reconciles against. ConfirmPurchase
// and ApplyRefund must each commit as one all-or-nothing batch.
type Repository interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	SetCheckoutSession(ctx context.Context, transactionID, sessionID string) error
	ConfirmPurchase(ctx context.Context, c store.PurchaseConfirmation) (*store.PurchaseResult, error)
	RecordRefundIssued(ctx context.Context, transactionID, refundID string) error
	ApplyRefund(ctx context.Context, app store.RefundApplication) (*models.Transaction, error)
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*gateway.CheckoutSession, error)
	CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error)
}

// Publisher receives a notification after each committed reconciliation.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

// StatusView is what a polling client sees for a transaction.
type StatusView struct {
	TransactionID string                   `json:"transactionId"`
	Status        models.TransactionStatus `json:"status"`
	PaymentID     string                   `json:"paymentId,omitempty"`
}

// StatusCache fronts status reads. Invalidate bumps the transaction's
// generation, and Set stores nothing unless the generation still equals the
// one read before the database lookup, so a slow reader cannot put back a
// status that a commit has already replaced.
type StatusCache interface {
	Get(ctx context.Context, transactionID string) (*StatusView, bool, error)
	Generation(ctx context.Context, transactionID string) (int64, error)
	Set(ctx context.Context, view StatusView, generation int64) error
	Invalidate(ctx context.Context, transactionID string) error
}

// RefundGuard serialises gateway refund calls per transaction. Acquire
// returns acquired=false when another caller holds the key.
type RefundGuard interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

type Options struct {
	Location          *time.Location
	CancelWindow      time.Duration
	RefundRate        decimal.Decimal
	MinCheckoutAmount int64
	GatewayTimeout    time.Duration
	Currency          string
	Webhook           gateway.WebhookVerifier
	Now               func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Location:          time.UTC,
		CancelWindow:      24 * time.Hour,
		RefundRate:        decimal.RequireFromString("0.98"),
		MinCheckoutAmount: 10000,
		GatewayTimeout:    15 * time.Second,
		Currency:          "PHP",
		Now:               time.Now,
	}
}

type Deps struct {
	Repository Repository
	Gateway    Gateway
	Publisher  Publisher
	Cache      StatusCache
	Guard      RefundGuard
	Logger     *zap.Logger
}

type Service struct {
	repo      Repository
	gateway   Gateway
	publisher Publisher
	cache     StatusCache
	guard     RefundGuard
	opts      Options
	logger    *zap.Logger
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Repository == nil {
		return nil, errors.New("reconcile: repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconcile: gateway is required")
	}

	s := &Service{
		repo:      deps.Repository,
		gateway:   deps.Gateway,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		guard:     deps.Guard,
		opts:      opts,
		logger:    deps.Logger,
	}

	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.cache == nil {
		s.cache = nopCache{}
	}
	if s.guard == nil {
		s.guard = nopGuard{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.opts.Location == nil {
		s.opts.Location = time.UTC
	}
	if s.opts.Now == nil {
		s.opts.Now = time.Now
	}

	return s, nil
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

// gatewayContext bounds a single gateway call.
func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.GatewayTimeout)
}

// TransactionStatus answers client polls, preferring the cache.
func (s *Service) TransactionStatus(ctx context.Context, transactionID string) (*StatusView, error) {
	if transactionID == "" {
		return nil, validation("transactionId is required")
	}

	if view, ok, err := s.cache.Get(ctx, transactionID); err != nil {
		s.logger.Warn("status cache read failed", zap.String("transaction_id", transactionID), zap.Error(err))
	} else if ok {
		return view, nil
	}

	generation, genErr := s.cache.Generation(ctx, transactionID)
	if genErr != nil {
		s.logger.Warn("status cache generation read failed", zap.String("transaction_id", transactionID), zap.Error(genErr))
	}

	t, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fromStore("load transaction", err)
	}

	view := StatusView{TransactionID: t.ID, Status: t.Status, PaymentID: t.PaymentID}
	if genErr == nil {
		if err := s.cache.Set(ctx, view, generation); err != nil {
			s.logger.Warn("status cache write failed", zap.String("transaction_id", t.ID), zap.Error(err))
		}
	}

	return &view, nil
}

// settled runs the post-commit side effects. Neither may fail the operation.
func (s *Service) settled(ctx context.Context, transactionID, eventType string, payload any) {
	if err := s.cache.Invalidate(ctx, transactionID); err != nil {
		s.logger.Warn("status cache invalidation failed",
			zap.String("transaction_id", transactionID), zap.Error(err))
	}

	if err := s.publisher.Publish(ctx, eventType, transactionID, payload); err != nil {
		s.logger.Warn("reconciliation event not published",
			zap.String("transaction_id", transactionID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, any) error { return nil }

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*StatusView, bool, error) { return nil, false, nil }
func (nopCache) Generation(context.Context, string) (int64, error)      { return 0, nil }
func (nopCache) Set(context.Context, StatusView, int64) error           { return nil }
func (nopCache) Invalidate(context.Context, string) error               { return nil }

type nopGuard struct{}

func (nopGuard) Acquire(context.Context, string) (func(), bool, error) { return func() {}, true, nil }
