package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is the body of a transaction. Firestore may call it several times on contention, so it
// must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how many times a contended transaction is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries. A shorter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil || fn == nil {
		return WrapError("transaction", errors.New("firestore: client and transaction body are required"))
	}

	settings := txSettings{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts))
	return WrapError("transaction", err)
}

type txKey struct{}

// Tx is the transaction shared through the context by every repository call of one unit of work.
// Writes are buffered and handed to Firestore only when the unit of work returns, because Firestore
// refuses reads that follow a write in the same transaction. Reads never observe buffered writes;
// snapshots read through Get are kept, and values written through Put stay visible through Written.
type Tx struct {
	raw *firestore.Transaction

	mu      sync.Mutex
	reads   map[string]*firestore.DocumentSnapshot
	writes  map[string]any
	pending []func(*firestore.Transaction) error
}

func newTx(raw *firestore.Transaction) *Tx {
	return &Tx{
		raw:    raw,
		reads:  make(map[string]*firestore.DocumentSnapshot),
		writes: make(map[string]any),
	}
}

// Get reads ref inside the transaction. Missing documents return a snapshot that does not exist
// together with a NotFound status error.
func (t *Tx) Get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap, ok := t.reads[ref.Path]; ok {
		if !snap.Exists() {
			return snap, status.Errorf(codes.NotFound, "%q not found", ref.Path)
		}
		return snap, nil
	}
	snap, err := t.raw.Get(ref)
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, err
	}
	if snap != nil {
		t.reads[ref.Path] = snap
	}
	return snap, err
}

// Read returns the snapshot of ref already read in this transaction.
func (t *Tx) Read(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.reads[ref.Path]
	return snap, ok
}

// Create buffers the creation of ref. An existing document fails the commit.
func (t *Tx) Create(ref *firestore.DocumentRef, data any) error {
	return t.buffer(func(raw *firestore.Transaction) error { return raw.Create(ref, data) })
}

func (t *Tx) Set(ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) error {
	return t.buffer(func(raw *firestore.Transaction) error { return raw.Set(ref, data, opts...) })
}

func (t *Tx) Delete(ref *firestore.DocumentRef, preconds ...firestore.Precondition) error {
	return t.buffer(func(raw *firestore.Transaction) error { return raw.Delete(ref, preconds...) })
}

// Put buffers a Set of value on ref and remembers value for later calls to Written.
func (t *Tx) Put(ref *firestore.DocumentRef, value any) error {
	if err := t.Set(ref, value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes[ref.Path] = value
	return nil
}

// Written returns the value last buffered for ref through Put.
func (t *Tx) Written(ref *firestore.DocumentRef) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.writes[ref.Path]
	return value, ok
}

func (t *Tx) buffer(op func(*firestore.Transaction) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, op)
	return nil
}

// flush hands the buffered writes to Firestore in the order they were made.
func (t *Tx) flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, op := range t.pending {
		if err := op(t.raw); err != nil {
			return err
		}
	}
	t.pending = nil
	return nil
}

// WithTx attaches tx to ctx.
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction attached to ctx.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

// InTx runs fn in the transaction carried by ctx, or in a new one when there is none. The
// context passed to fn carries the transaction so nested repository calls join it.
func (p *Provider) InTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error, opts ...TxOption) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	return p.RunTransaction(ctx, func(ctx context.Context, raw *firestore.Transaction) error {
		tx := newTx(raw)
		if err := fn(WithTx(ctx, tx), tx); err != nil {
			return err
		}
		return tx.flush()
	}, opts...)
}
