package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"go.uber.org/zap"
)

var (
	// ErrTxDone is returned when committing or rolling back a finished transaction
	ErrTxDone = errors.New("transaction already finished")
	// ErrLockUpgrade is returned when a transaction holding a share lock
	// asks for an update lock on the same row
	ErrLockUpgrade = errors.New("cannot upgrade a share lock")
)

// transactionContextKey is the context key for storing transactions
type transactionContextKey struct{}

// TransactionManager implements repositories.TransactionManager with an
// undo journal. Writes are applied immediately and reverted on rollback.
type TransactionManager struct {
	store  *Store
	logger *zap.Logger
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(store *Store, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{store: store, logger: logger}
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx := &Transaction{store: tm.store, logger: tm.logger}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	tm.logger.Debug("transaction started")
	return tx, nil
}

// InTransaction executes a function within a transaction
// Automatically commits if function succeeds, rolls back on error
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx.Context(), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Transaction implements repositories.Transaction
type Transaction struct {
	store  *Store
	ctx    context.Context
	logger *zap.Logger

	mu      sync.Mutex
	undo    []func()
	held    map[uuid.UUID]repositories.LockMode
	release []func()
	done    bool
}

// Commit discards the undo journal
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.undo = nil
	t.releaseLocks()
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback reverts every journaled write in reverse order
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if t.done {
		// Already closed, same as sql.ErrTxDone being ignored
		t.mu.Unlock()
		return nil
	}
	t.done = true
	undo := t.undo
	t.undo = nil
	t.mu.Unlock()

	t.store.mu.Lock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	t.store.mu.Unlock()

	t.mu.Lock()
	t.releaseLocks()
	t.mu.Unlock()

	t.logger.Debug("transaction rolled back", zap.Int("writes", len(undo)))
	return nil
}

// lock takes a row lock held until the transaction ends. A row is locked
// at most once per transaction.
func (t *Transaction) lock(id uuid.UUID, mode repositories.LockMode) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTxDone
	}
	if held, ok := t.held[id]; ok {
		t.mu.Unlock()
		if held < mode {
			return ErrLockUpgrade
		}
		return nil
	}
	t.mu.Unlock()

	row := t.store.locks.row(id)
	release := row.RUnlock
	if mode == repositories.LockUpdate {
		row.Lock()
		release = row.Unlock
	} else {
		row.RLock()
	}

	t.mu.Lock()
	if t.held == nil {
		t.held = make(map[uuid.UUID]repositories.LockMode)
	}
	t.held[id] = mode
	t.release = append(t.release, release)
	t.mu.Unlock()
	return nil
}

// releaseLocks must be called with t.mu held
func (t *Transaction) releaseLocks() {
	for _, release := range t.release {
		release()
	}
	t.release = nil
	t.held = nil
}

// Context returns a context carrying the transaction
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// txHandle is the journal a repository write appends to. A nil handle
// means the write is not part of a transaction.
type txHandle struct {
	tx *Transaction
}

func (h *txHandle) record(undo func()) {
	if h == nil || h.tx == nil {
		return
	}
	h.tx.mu.Lock()
	if !h.tx.done {
		h.tx.undo = append(h.tx.undo, undo)
	}
	h.tx.mu.Unlock()
}

// journalFor returns the journal of the transaction carried by ctx
func journalFor(ctx context.Context) *txHandle {
	if tx, ok := ctx.Value(transactionContextKey{}).(*Transaction); ok {
		return &txHandle{tx: tx}
	}
	return nil
}

// lockRow locks id for the transaction carried by ctx. Outside a
// transaction there is nothing to hold the lock, so it is a no-op.
func lockRow(ctx context.Context, id uuid.UUID, mode repositories.LockMode) error {
	if tx, ok := ctx.Value(transactionContextKey{}).(*Transaction); ok {
		return tx.lock(id, mode)
	}
	return nil
}

// rowLocks hands out one reader/writer lock per record id
type rowLocks struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*sync.RWMutex
}

func (l *rowLocks) row(id uuid.UUID) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rows == nil {
		l.rows = make(map[uuid.UUID]*sync.RWMutex)
	}
	m, ok := l.rows[id]
	if !ok {
		m = &sync.RWMutex{}
		l.rows[id] = m
	}
	return m
}
