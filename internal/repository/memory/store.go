package memory

import (
	"context"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"sync"
)

// Store keeps everything in process memory. Each loan and account has its
// own lock, so units of work on different entities never wait on each other.
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]*domain.FundsAccount
	loans         map[string]*domain.Loan
	customerIndex map[string][]string
	providerIndex map[string][]string
	history       map[string][]domain.StatusChange
	payments      map[string][]*domain.Payment
	params        []*domain.LoanParameters

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	paramsToken chan struct{}
}

func NewStore() *Store {
	return &Store{
		accounts:      make(map[string]*domain.FundsAccount),
		loans:         make(map[string]*domain.Loan),
		customerIndex: make(map[string][]string),
		providerIndex: make(map[string][]string),
		history:       make(map[string][]domain.StatusChange),
		payments:      make(map[string][]*domain.Payment),
		locks:         make(map[string]chan struct{}),
		paramsToken:   make(chan struct{}, 1),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := newTx(s)
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.commit()
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) token(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

type tx struct {
	store *Store
	held  map[string]chan struct{}
	order []string

	accounts   map[string]*domain.FundsAccount
	loans      map[string]*domain.Loan
	newLoans   []string
	payments   []*domain.Payment
	history    []domain.StatusChange
	params     *domain.LoanParameters
	paramsHeld bool
}

func newTx(s *Store) *tx {
	return &tx{
		store:    s,
		held:     make(map[string]chan struct{}),
		accounts: make(map[string]*domain.FundsAccount),
		loans:    make(map[string]*domain.Loan),
	}
}

func (t *tx) Accounts() repository.AccountRepository     { return (*txAccounts)(t) }
func (t *tx) Loans() repository.LoanRepository           { return (*txLoans)(t) }
func (t *tx) Payments() repository.PaymentRepository     { return (*txPayments)(t) }
func (t *tx) Parameters() repository.ParameterRepository { return (*txParameters)(t) }

// lock takes the entity lock for key once per transaction.
func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.store.token(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		t.order = append(t.order, key)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) lockParameters(ctx context.Context) error {
	if t.paramsHeld {
		return nil
	}
	select {
	case t.store.paramsToken <- struct{}{}:
		t.paramsHeld = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		<-t.held[t.order[i]]
	}
	t.held = nil
	t.order = nil
	if t.paramsHeld {
		<-t.store.paramsToken
		t.paramsHeld = false
	}
}

func (t *tx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, account := range t.accounts {
		s.accounts[id] = account
	}
	for _, id := range t.newLoans {
		loan := t.loans[id]
		s.customerIndex[loan.CustomerID] = append(s.customerIndex[loan.CustomerID], id)
		s.providerIndex[loan.ProviderID] = append(s.providerIndex[loan.ProviderID], id)
	}
	for id, loan := range t.loans {
		s.loans[id] = loan
	}
	for _, p := range t.payments {
		s.payments[p.LoanID] = append(s.payments[p.LoanID], p)
	}
	for _, change := range t.history {
		s.history[change.LoanID] = append(s.history[change.LoanID], change)
	}
	if t.params != nil {
		for _, p := range s.params {
			p.Active = false
		}
		s.params = append(s.params, t.params)
	}
}
