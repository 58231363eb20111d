// Package service is the downstream API surface of spec.md §6: plain Go
// functions an HTTP (or any other transport) handler calls directly. No
// framework is wired here — each function validates its own input and
// returns an apitypes.Envelope[T], following Design Note 9's duck-typed
// response wrapper.
package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/escrowd/coordinator/internal/apitypes"
	"github.com/escrowd/coordinator/internal/store"
)

// Service wraps the Persistence Façade with the validation and ID/handle
// generation the downstream API surface owns but the engine does not.
type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

func validationError[T any](field, reason string) apitypes.Envelope[T] {
	return apitypes.Failure[T]("validation_error", fmt.Sprintf("%s: %s", field, reason))
}

func internalError[T any](err error) apitypes.Envelope[T] {
	return apitypes.Failure[T]("internal_error", err.Error())
}

func notFoundError[T any](what string) apitypes.Envelope[T] {
	return apitypes.Failure[T]("not_found", what)
}

// validationErr lets a precondition check fail inside a WithSerializable
// closure and still be told apart from a genuine store error once it
// surfaces back out, so the caller can report it as a validation_error
// instead of internal_error.
type validationErr struct{ reason string }

func (e *validationErr) Error() string { return e.reason }

func errValidation(reason string) error { return &validationErr{reason: reason} }

// newBlockchainIdentifier builds the buyer-supplied correlation handle
// spec.md §6 describes for create_payment: a 20-byte random hex prefix with
// identifierFromPurchaser suffixed, unique per (PaymentSource, handle) pair
// per the §8 invariant.
func newBlockchainIdentifier(identifierFromPurchaser string) (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("service: generating blockchain identifier: %w", err)
	}
	return hex.EncodeToString(raw) + identifierFromPurchaser, nil
}

func newID() string {
	return uuid.NewString()
}
