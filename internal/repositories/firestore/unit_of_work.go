package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/repositories"
)

// UnitOfWork runs service callbacks inside one Firestore transaction shared via the context.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork constructs a transaction runner over provider.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx returns the callback's own error unchanged so services can match their sentinels.
// Calls made while a transaction is already open join it.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var fnErr error
	err := u.provider.InTx(ctx, func(ctx context.Context, _ *pfirestore.Tx) error {
		fnErr = fn(ctx)
		return fnErr
	})
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return wrap("transaction", err)
}
