package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/escrowd/coordinator/internal/domain"
)

// RegistryRequestRepo is the Persistence Façade's view of registry_requests
// (agent identifier mint/burn lifecycle).
type RegistryRequestRepo struct{ db *sqlx.DB }

type registryRequestRow struct {
	ID                   string         `db:"id"`
	PaymentSourceID      string         `db:"payment_source_id"`
	SellingWalletID      string         `db:"selling_wallet_id"`
	Name                 string         `db:"name"`
	Description          string         `db:"description"`
	APIBaseURL           string         `db:"api_base_url"`
	Capability           []byte         `db:"capability"`
	Author               []byte         `db:"author"`
	Legal                []byte         `db:"legal"`
	Tags                 []byte         `db:"tags"`
	ExampleOutputs       []byte         `db:"example_outputs"`
	Pricing              []byte         `db:"pricing"`
	MetadataVersion      int            `db:"metadata_version"`
	AgentIdentifier       sql.NullString `db:"agent_identifier"`
	State                string         `db:"state"`
	CurrentTransactionID sql.NullString `db:"current_transaction_id"`
	Error                sql.NullString `db:"error"`
}

func (row registryRequestRow) toDomain() (domain.RegistryRequest, error) {
	var capability domain.Capability
	var author domain.Author
	var legal domain.Legal
	var tags, exampleOutputs []string
	var pricing domain.Pricing

	for _, f := range []struct {
		raw  []byte
		into interface{}
	}{
		{row.Capability, &capability},
		{row.Author, &author},
		{row.Legal, &legal},
		{row.Tags, &tags},
		{row.ExampleOutputs, &exampleOutputs},
		{row.Pricing, &pricing},
	} {
		if err := unmarshalIfSet(f.raw, f.into); err != nil {
			return domain.RegistryRequest{}, err
		}
	}

	rr := domain.RegistryRequest{
		ID:              row.ID,
		PaymentSourceID: row.PaymentSourceID,
		SellingWalletID: row.SellingWalletID,
		Name:            row.Name,
		Description:     row.Description,
		APIBaseURL:      row.APIBaseURL,
		Capability:      capability,
		Author:          author,
		Legal:           legal,
		Tags:            tags,
		ExampleOutputs:  exampleOutputs,
		Pricing:         pricing,
		MetadataVersion: row.MetadataVersion,
		State:           domain.RegistrationState(row.State),
	}
	if row.AgentIdentifier.Valid {
		rr.AgentIdentifier = row.AgentIdentifier.String
	}
	if row.CurrentTransactionID.Valid {
		v := row.CurrentTransactionID.String
		rr.CurrentTransactionID = &v
	}
	if row.Error.Valid {
		v := row.Error.String
		rr.Error = &v
	}
	return rr, nil
}

const registryColumns = `
	id, payment_source_id, selling_wallet_id, name, description, api_base_url,
	capability, author, legal, tags, example_outputs, pricing, metadata_version,
	agent_identifier, state, current_transaction_id, error`

func (r *RegistryRequestRepo) Get(ctx context.Context, id string) (domain.RegistryRequest, error) {
	var row registryRequestRow
	err := r.db.GetContext(ctx, &row, `SELECT `+registryColumns+` FROM registry_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RegistryRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.RegistryRequest{}, fmt.Errorf("store: getting registry request %s: %w", id, err)
	}
	return row.toDomain()
}

// Create inserts a new registry request in RegistrationRequested, the entry
// point for the downstream register_agent operation (spec.md §6). Callers
// supply rr.ID (a generated UUID); rr.State is ignored.
func (r *RegistryRequestRepo) Create(ctx context.Context, rr domain.RegistryRequest) error {
	capability, err := marshalJSON(rr.Capability)
	if err != nil {
		return err
	}
	author, err := marshalJSON(rr.Author)
	if err != nil {
		return err
	}
	legal, err := marshalJSON(rr.Legal)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(rr.Tags)
	if err != nil {
		return err
	}
	exampleOutputs, err := marshalJSON(rr.ExampleOutputs)
	if err != nil {
		return err
	}
	pricing, err := marshalJSON(rr.Pricing)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO registry_requests (
			id, payment_source_id, selling_wallet_id, name, description, api_base_url,
			capability, author, legal, tags, example_outputs, pricing, metadata_version,
			state
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rr.ID, rr.PaymentSourceID, rr.SellingWalletID, rr.Name, rr.Description, rr.APIBaseURL,
		capability, author, legal, tags, exampleOutputs, pricing, rr.MetadataVersion,
		string(domain.RegistrationRequested))
	if err != nil {
		return fmt.Errorf("store: creating registry request %s: %w", rr.ID, err)
	}
	return nil
}

// Delete removes a registry request, allowed only in states
// {RegistrationFailed, DeregistrationConfirmed} per the downstream
// delete_agent_registration operation (spec.md §6); the state check is the
// caller's (internal/service) responsibility, this is a plain unconditional
// delete by id.
func (r *RegistryRequestRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM registry_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: deleting registry request %s: %w", id, err)
	}
	return nil
}

// ListPage implements query_registry's cursorId-based pagination (spec.md
// §6): rows ordered by id, page size limit, resuming strictly after cursor.
// An empty returned cursor means there is no further page.
func (r *RegistryRequestRepo) ListPage(ctx context.Context, sourceID, cursor string, limit int) ([]domain.RegistryRequest, string, error) {
	var rows []registryRequestRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+registryColumns+` FROM registry_requests
		WHERE payment_source_id = $1 AND ($2 = '' OR id > $2)
		ORDER BY id LIMIT $3`, sourceID, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("store: listing registry request page: %w", err)
	}
	out := make([]domain.RegistryRequest, 0, len(rows))
	for _, row := range rows {
		rr, err := row.toDomain()
		if err != nil {
			return nil, "", fmt.Errorf("store: decoding registry request %s: %w", row.ID, err)
		}
		out = append(out, rr)
	}
	nextCursor := ""
	if len(out) == limit {
		nextCursor = out[len(out)-1].ID
	}
	return out, nextCursor, nil
}

// GetByAgentIdentifier resolves a minted agent identifier back to its
// registry request, the lookup create_payment uses to find which
// PaymentSource and selling wallet a payment is destined for (spec.md §6).
func (r *RegistryRequestRepo) GetByAgentIdentifier(ctx context.Context, agentIdentifier string) (domain.RegistryRequest, error) {
	var row registryRequestRow
	err := r.db.GetContext(ctx, &row, `SELECT `+registryColumns+` FROM registry_requests WHERE agent_identifier = $1`, agentIdentifier)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RegistryRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.RegistryRequest{}, fmt.Errorf("store: getting registry request for agent identifier: %w", err)
	}
	return row.toDomain()
}

func (r *RegistryRequestRepo) ListByState(ctx context.Context, sourceID string, state domain.RegistrationState) ([]domain.RegistryRequest, error) {
	var rows []registryRequestRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+registryColumns+` FROM registry_requests
		WHERE payment_source_id = $1 AND state = $2`, sourceID, string(state))
	if err != nil {
		return nil, fmt.Errorf("store: listing registry requests in %s: %w", state, err)
	}
	out := make([]domain.RegistryRequest, 0, len(rows))
	for _, row := range rows {
		rr, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("store: decoding registry request %s: %w", row.ID, err)
		}
		out = append(out, rr)
	}
	return out, nil
}

// SetMintedIdentifier records the minted agent_identifier and advances the
// row to RegistrationInitiated, pointing current_transaction_id at the
// dispatcher's Pending Transaction (spec §4.4 Register Agent dispatcher).
func (r *RegistryRequestRepo) SetMintedIdentifier(ctx context.Context, tx *sqlx.Tx, id, agentIdentifier, transactionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE registry_requests
		SET agent_identifier = $2, state = $3, current_transaction_id = $4
		WHERE id = $1`, id, agentIdentifier, string(domain.RegistrationInitiated), transactionID)
	if err != nil {
		return fmt.Errorf("store: setting minted identifier for %s: %w", id, err)
	}
	return nil
}

// BeginDispatch advances a registry request to state, pointing
// current_transaction_id at the dispatcher's Pending Transaction — used by
// Deregister Agent, which does not mint a new identifier so has no
// SetMintedIdentifier-shaped write of its own.
func (r *RegistryRequestRepo) BeginDispatch(ctx context.Context, tx *sqlx.Tx, id string, state domain.RegistrationState, transactionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE registry_requests
		SET state = $2, current_transaction_id = $3
		WHERE id = $1`, id, string(state), transactionID)
	if err != nil {
		return fmt.Errorf("store: beginning dispatch for registry request %s: %w", id, err)
	}
	return nil
}

// FindByCurrentTransactionID locates the registry request (if any) a given
// Transaction is currently blocking, used by the Rollback Handler.
func (r *RegistryRequestRepo) FindByCurrentTransactionID(ctx context.Context, tx *sqlx.Tx, transactionID string) (domain.RegistryRequest, error) {
	var row registryRequestRow
	err := tx.GetContext(ctx, &row, `SELECT `+registryColumns+` FROM registry_requests WHERE current_transaction_id = $1 FOR UPDATE`, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RegistryRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.RegistryRequest{}, fmt.Errorf("store: finding registry request for transaction %s: %w", transactionID, err)
	}
	return row.toDomain()
}

func (r *RegistryRequestRepo) SetState(ctx context.Context, tx *sqlx.Tx, id string, state domain.RegistrationState, errNote *string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE registry_requests SET state = $2, error = $3 WHERE id = $1`, id, string(state), errNote)
	if err != nil {
		return fmt.Errorf("store: setting registry request %s state to %s: %w", id, state, err)
	}
	return nil
}

// marshalJSON is a small helper for repository writes (Create etc.)
// that need to serialize domain sub-structs into the JSONB columns above.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
