package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/parking-orchestrator/internal/client"
	"github.com/iliyamo/parking-orchestrator/internal/config"
	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

var errDown = errors.New("connection refused")

func unavailable(name string) error {
	return &gate.DependencyUnavailableError{Name: name, Cause: errDown}
}

func testOrchestration() config.OrchestrationConfig {
	return config.OrchestrationConfig{
		PostPaymentAttempts:  4,
		CompensationAttempts: 3,
		CompensationTimeout:  time.Second,
	}
}

func testFee() config.FeeConfig {
	return config.FeeConfig{HourlyRate: 50, MinimumCharge: 600, Currency: "INR"}
}

// newLevel returns a ledger over n free spots on level 1.
func newLevel(t *testing.T, n int) (*ledger.Ledger, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	for i := 0; i < n; i++ {
		store.AddSpot(model.Spot{LevelID: 1, SpotType: model.SpotMedium})
	}
	return ledger.New(store, zaptest.NewLogger(t)), store
}

func occupied(t *testing.T, store *ledger.MemoryStore, id uint64) bool {
	t.Helper()
	sp, ok := store.Spot(id)
	if !ok {
		t.Fatalf("spot %d missing", id)
	}
	return sp.Occupied
}

// flakyLedger fails the first releases with the queued errors.
type flakyLedger struct {
	Ledger
	mu           sync.Mutex
	releaseErrs  []error
	alwaysFail   error
	releaseCalls int
}

func (l *flakyLedger) ReleaseSpot(ctx context.Context, spotID uint64) error {
	l.mu.Lock()
	l.releaseCalls++
	if l.alwaysFail != nil {
		l.mu.Unlock()
		return l.alwaysFail
	}
	if len(l.releaseErrs) > 0 {
		err := l.releaseErrs[0]
		l.releaseErrs = l.releaseErrs[1:]
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()
	return l.Ledger.ReleaseSpot(ctx, spotID)
}

type fakeVehicles struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, plate string) (model.Vehicle, error)
}

func (f *fakeVehicles) RegisterOrFetch(ctx context.Context, plate string, accessible bool) (model.Vehicle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, plate)
	}
	return model.Vehicle{ID: 1, LicensePlate: plate, Accessible: accessible}, nil
}

// fakeTickets keeps tickets in memory.  Like the ticketing service it
// hands back a plate's open ticket instead of opening a second one, and
// accepts a repeated close only under the token that closed the ticket.
type fakeTickets struct {
	mu          sync.Mutex
	nextID      uint64
	tickets     map[uint64]model.Ticket
	closers     map[uint64]string
	closeTokens []string
	openErr     error
	fetchErr    error
	closeErr    error
	closeOpts   int
	openCalls   int
	closeCalls  int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{tickets: make(map[uint64]model.Ticket), closers: make(map[uint64]string)}
}

func (f *fakeTickets) add(tk model.Ticket) model.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(tk)
}

func (f *fakeTickets) addLocked(tk model.Ticket) model.Ticket {
	f.nextID++
	tk.ID = f.nextID
	f.tickets[tk.ID] = tk
	return tk
}

func (f *fakeTickets) get(id uint64) model.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets[id]
}

func (f *fakeTickets) Open(_ context.Context, spotID uint64, plate string) (model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	if f.openErr != nil {
		return model.Ticket{}, f.openErr
	}
	for _, tk := range f.tickets {
		if tk.VehicleNumber == plate && !tk.Closed() {
			return tk, nil
		}
	}
	return f.addLocked(model.Ticket{SpotID: spotID, VehicleNumber: plate, EntryTime: time.Now().UTC()}), nil
}

func (f *fakeTickets) Fetch(_ context.Context, id uint64) (model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return model.Ticket{}, f.fetchErr
	}
	tk, ok := f.tickets[id]
	if !ok {
		return model.Ticket{}, gate.Reject(clientNotFound(id))
	}
	return tk, nil
}

func (f *fakeTickets) Close(ctx context.Context, id uint64, token string, opts ...gate.CallOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeOpts = len(opts)
	f.closeTokens = append(f.closeTokens, token)
	if f.closeErr != nil {
		return f.closeErr
	}
	if err := ctx.Err(); err != nil {
		return unavailable(config.DepTicketing)
	}
	tk, ok := f.tickets[id]
	if !ok {
		return gate.Reject(clientNotFound(id))
	}
	if tk.Closed() {
		if token != "" && f.closers[id] == token {
			return nil
		}
		return gate.Reject(fmt.Errorf("%w: %d", client.ErrTicketClosed, id))
	}
	now := time.Now().UTC()
	tk.ExitTime = &now
	f.tickets[id] = tk
	f.closers[id] = token
	return nil
}

// fakePayments captures at most once per ticket, the way the payment
// service dedupes charges sharing an idempotency key.
type fakePayments struct {
	mu       sync.Mutex
	amounts  []int64
	captured map[uint64]int64
	// lostResponses captures the charge but reports the dependency as
	// unavailable, for that many calls.
	lostResponses int
	fn            func(ctx context.Context) error
}

func (f *fakePayments) Charge(ctx context.Context, ticketID uint64, amount int64) (model.PaymentResult, error) {
	f.mu.Lock()
	f.amounts = append(f.amounts, amount)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(ctx); err != nil {
			return model.PaymentResult{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captured == nil {
		f.captured = make(map[uint64]int64)
	}
	if _, ok := f.captured[ticketID]; !ok {
		f.captured[ticketID] = amount
	}
	if f.lostResponses > 0 {
		f.lostResponses--
		return model.PaymentResult{}, unavailable(config.DepPayment)
	}
	return model.PaymentResult{Status: model.PaymentSucceeded, Reference: "pay-ref"}, nil
}

func (f *fakePayments) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.amounts)
}

func (f *fakePayments) captures() map[uint64]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]int64, len(f.captured))
	for id, amount := range f.captured {
		out[id] = amount
	}
	return out
}

type recordingEscalator struct {
	mu   sync.Mutex
	recs []Reconciliation
	err  error
}

func (e *recordingEscalator) Escalate(_ context.Context, rec Reconciliation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recs = append(e.recs, rec)
	return e.err
}

func (e *recordingEscalator) cases() []Reconciliation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Reconciliation(nil), e.recs...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	receipts []model.Receipt
}

func (n *recordingNotifier) VehicleExited(_ context.Context, r model.Receipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
	return nil
}
