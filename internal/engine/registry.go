package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/events"
	"trading-sim/internal/instrument"
	"trading-sim/internal/order"
	"trading-sim/internal/position"
	"trading-sim/internal/risk"
	"trading-sim/pkg/cache"
)

// DefaultAccount is used when a request names no account.
const DefaultAccount = "default"

// ErrUnknownAccount is returned for lookups of accounts never created.
var ErrUnknownAccount = errors.New("unknown account")

// Factory builds the engine of one account.
type Factory func(account string, initial decimal.Decimal) (*Engine, error)

// Registry keeps one engine per account. The emergency flag and the
// volatility tracker are shared by every engine it creates.
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]*Engine
	lastSeen map[string]time.Time
	marks    *cache.MarkCache
	factory  Factory

	initial decimal.Decimal
	breaker *risk.Breaker
	vol     *risk.Volatility
	emitter *events.Emitter
	base    Config
	log     *zap.Logger
}

// NewRegistry creates a registry whose engines are built from base. The
// account id of base is ignored.
func NewRegistry(base Config) *Registry {
	if base.Logger == nil {
		base.Logger = zap.NewNop()
	}
	if base.Now == nil {
		base.Now = time.Now
	}
	if base.Breaker == nil {
		base.Breaker = risk.NewBreaker()
	}
	if base.Volatility == nil {
		base.Volatility = risk.NewVolatility(0, 0)
	}
	if base.Emitter == nil {
		base.Emitter = events.NewEmitter()
	}
	r := &Registry{
		engines:  make(map[string]*Engine),
		lastSeen: make(map[string]time.Time),
		marks:    cache.NewMarkCache(),
		initial:  base.InitialBalance,
		breaker:  base.Breaker,
		vol:      base.Volatility,
		emitter:  base.Emitter,
		base:     base,
		log:      base.Logger.Named("registry"),
	}
	r.factory = func(account string, initial decimal.Decimal) (*Engine, error) {
		cfg := r.base
		cfg.Account = account
		cfg.InitialBalance = initial
		return New(cfg)
	}
	return r
}

// WithFactory replaces the engine factory. Engines it builds should share
// the registry's Breaker and Emitter.
func (r *Registry) WithFactory(f Factory) *Registry {
	r.factory = f
	return r
}

// Breaker returns the shared emergency flag.
func (r *Registry) Breaker() *risk.Breaker { return r.breaker }

// Emitter returns the shared event emitter.
func (r *Registry) Emitter() *events.Emitter { return r.emitter }

// GetOrCreate returns the engine for account, creating it with the default
// initial balance.
func (r *Registry) GetOrCreate(account string) (*Engine, error) {
	if account == "" {
		account = DefaultAccount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(account, r.initial)
}

func (r *Registry) getOrCreateLocked(account string, initial decimal.Decimal) (*Engine, error) {
	now := r.base.Now()
	if e, ok := r.engines[account]; ok {
		r.lastSeen[account] = now
		return e, nil
	}
	e, err := r.factory(account, initial)
	if err != nil {
		return nil, err
	}
	for symbol, price := range r.marks.Prices() {
		e.marks[symbol] = price
	}
	r.engines[account] = e
	r.lastSeen[account] = now
	r.log.Info("account created", zap.String("account", account), zap.Stringer("initial", initial))
	return e, nil
}

// CreateAccount opens a new account with a generated id.
func (r *Registry) CreateAccount(initial decimal.Decimal) (string, error) {
	if initial.IsZero() {
		initial = r.initial
	}
	account := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.getOrCreateLocked(account, initial); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return account, nil
}

// Get returns the engine for account without creating it.
func (r *Registry) Get(account string) (*Engine, error) {
	if account == "" {
		account = DefaultAccount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	r.lastSeen[account] = r.base.Now()
	return e, nil
}

// Marks returns the last price of every symbol ticked so far.
func (r *Registry) Marks() []cache.Mark { return r.marks.Marks() }

// Accounts lists account ids in order.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) all() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account() < out[j].Account() })
	return out
}

// CleanupIdle drops accounts without open positions that have been idle
// longer than ttl. It returns how many were removed.
func (r *Registry) CleanupIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := r.base.Now().Add(-ttl)

	r.mu.Lock()
	var idle []*Engine
	for account, t := range r.lastSeen {
		e := r.engines[account]
		if !t.Before(cutoff) || account == DefaultAccount || len(e.Positions()) > 0 {
			continue
		}
		idle = append(idle, e)
		delete(r.engines, account)
		delete(r.lastSeen, account)
	}
	r.mu.Unlock()

	for _, e := range idle {
		e.Close()
		r.log.Info("idle account removed", zap.String("account", e.Account()))
	}
	return len(idle)
}

// RunCleanup calls CleanupIdle every interval until ctx is done.
func (r *Registry) RunCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupIdle(ttl)
		}
	}
}

// Close detaches every engine from the breaker.
func (r *Registry) Close() {
	for _, e := range r.all() {
		e.Close()
	}
}

// --- Service ---

func (r *Registry) PlaceOrder(ctx context.Context, account string, req OrderRequest) (PlaceResult, error) {
	e, err := r.GetOrCreate(account)
	if err != nil {
		return PlaceResult{}, err
	}
	return e.PlaceOrder(ctx, req)
}

func (r *Registry) ClosePosition(ctx context.Context, account, symbol string, exitPrice decimal.Decimal) (CloseResult, error) {
	e, err := r.Get(account)
	if err != nil {
		return CloseResult{}, conflict(err)
	}
	return e.ClosePosition(ctx, symbol, exitPrice)
}

func (r *Registry) CancelOrder(ctx context.Context, account string, id uint64) (order.Order, error) {
	e, err := r.Get(account)
	if err != nil {
		return order.Order{}, conflict(err)
	}
	return e.CancelOrder(ctx, id)
}

func (r *Registry) SetLeverage(ctx context.Context, account, symbol string, leverage int) (position.Position, error) {
	e, err := r.Get(account)
	if err != nil {
		return position.Position{}, conflict(err)
	}
	return e.SetLeverage(ctx, symbol, leverage)
}

func (r *Registry) Assess(ctx context.Context, account string, req OrderRequest) (risk.Assessment, error) {
	e, err := r.GetOrCreate(account)
	if err != nil {
		return risk.Assessment{}, err
	}
	return e.Assess(ctx, req)
}

// UpdatePrice feeds the shared volatility tracker once, then marks every
// account. Errors from individual accounts are joined.
func (r *Registry) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return invalid("price %s", price)
	}
	symbol = instrument.Normalize(symbol)
	r.vol.Observe(symbol, price, r.base.Now())
	r.base.Metrics.ObserveTick()

	r.marks.Set(symbol, price, r.base.Now())

	var errs []error
	for _, e := range r.all() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.UpdatePrice(ctx, symbol, price); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Account(), err))
		}
	}
	return errors.Join(errs...)
}

// Snapshot reports an existing account; unknown accounts are
// ErrUnknownAccount.
func (r *Registry) Snapshot(_ context.Context, account string) (Snapshot, error) {
	e, err := r.Get(account)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Snapshot(), nil
}

// OpenAccount creates account with the default balance when it does not
// exist yet and reports it.
func (r *Registry) OpenAccount(_ context.Context, account string) (Snapshot, error) {
	e, err := r.GetOrCreate(account)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Snapshot(), nil
}

func (r *Registry) Orders(_ context.Context, account string, limit int) ([]order.Order, error) {
	e, err := r.Get(account)
	if err != nil {
		return nil, err
	}
	return e.Orders(limit), nil
}

func (r *Registry) Activity(_ context.Context, account string, limit int) ([]events.Record, error) {
	e, err := r.Get(account)
	if err != nil {
		return nil, err
	}
	return e.Activity(limit), nil
}

func (r *Registry) Emergency() Emergency {
	active, trip := r.breaker.Status()
	return Emergency{Active: active, Trip: trip}
}

// ResetEmergency clears the shared flag. Every engine re-bases its equity
// tracker through its breaker listener.
func (r *Registry) ResetEmergency(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.breaker.Reset() {
		return nil
	}
	r.emitter.Emit(events.Record{Type: events.EventEmergencyReset, Time: r.base.Now()})
	r.base.Metrics.SetEmergency(false)
	r.log.Info("emergency stop cleared")
	return nil
}

func (r *Registry) ResetSimulation(ctx context.Context, account string, initial decimal.Decimal) error {
	e, err := r.GetOrCreate(account)
	if err != nil {
		return err
	}
	return e.ResetSimulation(ctx, initial)
}

var _ Service = (*Registry)(nil)
