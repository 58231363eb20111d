package service

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/escrowd/coordinator/internal/apitypes"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/store"
)

// AgentMetadata is register_agent's caller-supplied metadata payload
// (spec.md §6: "metadata…"), mirrored onto the RegistryRequest the Register
// Agent dispatcher later mints from.
type AgentMetadata struct {
	Name            string
	Description     string
	APIBaseURL      string
	Capability      domain.Capability
	Author          domain.Author
	Legal           domain.Legal
	Tags            []string
	ExampleOutputs  []string
	Pricing         domain.Pricing
	MetadataVersion int
}

// RegisterAgent creates a RegistryRequest in RegistrationRequested for the
// hot wallet owning sellingWalletVkey (spec.md §6 register_agent).
func (s *Service) RegisterAgent(ctx context.Context, paymentSourceID, sellingWalletVkey string, metadata AgentMetadata) apitypes.Envelope[domain.RegistryRequest] {
	if paymentSourceID == "" {
		return validationError[domain.RegistryRequest]("payment_source_id", "required")
	}
	if sellingWalletVkey == "" {
		return validationError[domain.RegistryRequest]("sellingWalletVkey", "required")
	}
	if metadata.Name == "" {
		return validationError[domain.RegistryRequest]("name", "required")
	}

	wallet, err := s.store.HotWallets.GetByVKey(ctx, paymentSourceID, sellingWalletVkey)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[domain.RegistryRequest]("no selling wallet with that vkey under this payment source")
	}
	if err != nil {
		return internalError[domain.RegistryRequest](err)
	}
	if wallet.Role != domain.WalletRoleSelling {
		return validationError[domain.RegistryRequest]("sellingWalletVkey", "wallet is not a selling wallet")
	}

	rr := domain.RegistryRequest{
		ID:              newID(),
		PaymentSourceID: paymentSourceID,
		SellingWalletID: wallet.ID,
		Name:            metadata.Name,
		Description:     metadata.Description,
		APIBaseURL:      metadata.APIBaseURL,
		Capability:      metadata.Capability,
		Author:          metadata.Author,
		Legal:           metadata.Legal,
		Tags:            metadata.Tags,
		ExampleOutputs:  metadata.ExampleOutputs,
		Pricing:         metadata.Pricing,
		MetadataVersion: metadata.MetadataVersion,
		State:           domain.RegistrationRequested,
	}
	if err := s.store.Registry.Create(ctx, rr); err != nil {
		return internalError[domain.RegistryRequest](err)
	}
	return apitypes.Success(rr)
}

// DeleteAgentRegistration removes a RegistryRequest, allowed only in states
// {RegistrationFailed, DeregistrationConfirmed} (spec.md §6
// delete_agent_registration).
func (s *Service) DeleteAgentRegistration(ctx context.Context, id string) apitypes.Envelope[struct{}] {
	rr, err := s.store.Registry.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[struct{}]("registry request")
	}
	if err != nil {
		return internalError[struct{}](err)
	}
	if rr.State != domain.RegistrationFailed && rr.State != domain.DeregistrationConfirmed {
		return validationError[struct{}]("state", "deletion only allowed from RegistrationFailed or DeregistrationConfirmed")
	}
	if err := s.store.Registry.Delete(ctx, id); err != nil {
		return internalError[struct{}](err)
	}
	return apitypes.Success(struct{}{})
}

// DeregisterAgent moves a confirmed registration to DeregistrationRequested,
// the trigger the Deregister Agent dispatcher (spec §4.4) polls for. Only
// valid from RegistrationConfirmed; there is nothing to burn otherwise.
func (s *Service) DeregisterAgent(ctx context.Context, id string) apitypes.Envelope[domain.RegistryRequest] {
	if id == "" {
		return validationError[domain.RegistryRequest]("id", "required")
	}

	var updated domain.RegistryRequest
	err := s.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		rr, err := s.store.Registry.Get(ctx, id)
		if err != nil {
			return err
		}
		if rr.State != domain.RegistrationConfirmed {
			return errValidation("deregistration only allowed from RegistrationConfirmed")
		}
		if err := s.store.Registry.SetState(ctx, tx, id, domain.DeregistrationRequested, nil); err != nil {
			return err
		}
		rr.State = domain.DeregistrationRequested
		updated = rr
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[domain.RegistryRequest]("registry request")
	}
	var ve *validationErr
	if errors.As(err, &ve) {
		return validationError[domain.RegistryRequest]("state", ve.reason)
	}
	if err != nil {
		return internalError[domain.RegistryRequest](err)
	}
	return apitypes.Success(updated)
}

// QueryRegistryPage is query_registry's result shape (spec.md §6): a page of
// rows plus the cursor to resume from, or "" once exhausted.
type QueryRegistryPage struct {
	Items      []domain.RegistryRequest
	NextCursor string
}

const defaultPageSize = 10

// QueryRegistry lists RegistryRequests for a PaymentSource with
// cursorId-based pagination (spec.md §6, page size 10).
func (s *Service) QueryRegistry(ctx context.Context, paymentSourceID, cursor string) apitypes.Envelope[QueryRegistryPage] {
	items, next, err := s.store.Registry.ListPage(ctx, paymentSourceID, cursor, defaultPageSize)
	if err != nil {
		return internalError[QueryRegistryPage](err)
	}
	return apitypes.Success(QueryRegistryPage{Items: items, NextCursor: next})
}
