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

// escrowSideRow is the column set shared by payment_requests and
// purchase_requests; amount multisets and the history array are stored as
// JSONB so either mirror's repo can scan the same shape.
type escrowSideRow struct {
	ID                         string         `db:"id"`
	PaymentSourceID            string         `db:"payment_source_id"`
	BlockchainIdentifier       string         `db:"blockchain_identifier"`
	InputHash                  string         `db:"input_hash"`
	ResultHash                 string         `db:"result_hash"`
	PayByTime                  int64          `db:"pay_by_time"`
	SubmitResultTime           int64          `db:"submit_result_time"`
	UnlockTime                 int64          `db:"unlock_time"`
	ExternalDisputeUnlockTime  int64          `db:"external_dispute_unlock_time"`
	BuyerCooldownTime          int64          `db:"buyer_cooldown_time"`
	SellerCooldownTime         int64          `db:"seller_cooldown_time"`
	CollateralReturnLovelace   int64          `db:"collateral_return_lovelace"`
	RequestedFunds             []byte         `db:"requested_funds"`
	PaidFunds                  []byte         `db:"paid_funds"`
	OnChainState               sql.NullString `db:"on_chain_state"`
	CurrentTransactionID       sql.NullString `db:"current_transaction_id"`
	TransactionHistory         []byte         `db:"transaction_history"`
	WithdrawnForSeller         []byte         `db:"withdrawn_for_seller"`
	WithdrawnForBuyer          []byte         `db:"withdrawn_for_buyer"`
	SmartContractWalletID      string         `db:"smart_contract_wallet_id"`
	CounterpartyWalletVKey     sql.NullString `db:"counterparty_vkey"`
	CounterpartyWalletAddress  sql.NullString `db:"counterparty_address"`
	NextAction                 string         `db:"next_action"`
	ErrorType                  string         `db:"error_type"`
	ErrorNote                  string         `db:"error_note"`
}

func (r escrowSideRow) toEscrowSide() (domain.EscrowSide, error) {
	var requested, paid, withdrawnSeller, withdrawnBuyer []domain.AmountEntry
	var history []string
	if err := unmarshalIfSet(r.RequestedFunds, &requested); err != nil {
		return domain.EscrowSide{}, fmt.Errorf("requested_funds: %w", err)
	}
	if err := unmarshalIfSet(r.PaidFunds, &paid); err != nil {
		return domain.EscrowSide{}, fmt.Errorf("paid_funds: %w", err)
	}
	if err := unmarshalIfSet(r.TransactionHistory, &history); err != nil {
		return domain.EscrowSide{}, fmt.Errorf("transaction_history: %w", err)
	}
	if err := unmarshalIfSet(r.WithdrawnForSeller, &withdrawnSeller); err != nil {
		return domain.EscrowSide{}, fmt.Errorf("withdrawn_for_seller: %w", err)
	}
	if err := unmarshalIfSet(r.WithdrawnForBuyer, &withdrawnBuyer); err != nil {
		return domain.EscrowSide{}, fmt.Errorf("withdrawn_for_buyer: %w", err)
	}

	side := domain.EscrowSide{
		ID:                        r.ID,
		PaymentSourceID:           r.PaymentSourceID,
		BlockchainIdentifier:      r.BlockchainIdentifier,
		InputHash:                 r.InputHash,
		ResultHash:                r.ResultHash,
		PayByTime:                 r.PayByTime,
		SubmitResultTime:          r.SubmitResultTime,
		UnlockTime:                r.UnlockTime,
		ExternalDisputeUnlockTime: r.ExternalDisputeUnlockTime,
		BuyerCooldownTime:         r.BuyerCooldownTime,
		SellerCooldownTime:        r.SellerCooldownTime,
		CollateralReturnLovelace:  r.CollateralReturnLovelace,
		RequestedFunds:            requested,
		PaidFunds:                 paid,
		TransactionHistory:        history,
		WithdrawnForSeller:        withdrawnSeller,
		WithdrawnForBuyer:         withdrawnBuyer,
		SmartContractWalletID:     r.SmartContractWalletID,
	}
	if r.OnChainState.Valid {
		s := domain.OnChainState(r.OnChainState.String)
		side.OnChainState = &s
	}
	if r.CurrentTransactionID.Valid {
		v := r.CurrentTransactionID.String
		side.CurrentTransactionID = &v
	}
	if r.CounterpartyWalletVKey.Valid {
		side.CounterpartyWallet = &domain.WalletBase{
			VKey:    r.CounterpartyWalletVKey.String,
			Address: r.CounterpartyWalletAddress.String,
		}
	}
	return side, nil
}

func unmarshalIfSet(raw []byte, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}

const escrowSideColumns = `
	id, payment_source_id, blockchain_identifier, input_hash, result_hash,
	pay_by_time, submit_result_time, unlock_time, external_dispute_unlock_time,
	buyer_cooldown_time, seller_cooldown_time, collateral_return_lovelace,
	requested_funds, paid_funds, on_chain_state, current_transaction_id,
	transaction_history, withdrawn_for_seller, withdrawn_for_buyer,
	smart_contract_wallet_id, counterparty_vkey, counterparty_address,
	next_action, error_type, error_note`

// PaymentRequestRepo is the Persistence Façade's view of payment_requests
// (the seller-side mirror).
type PaymentRequestRepo struct{ db *sqlx.DB }

func (r *PaymentRequestRepo) Get(ctx context.Context, id string) (domain.PaymentRequest, error) {
	var row escrowSideRow
	err := r.db.GetContext(ctx, &row, `SELECT `+escrowSideColumns+` FROM payment_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("store: getting payment request %s: %w", id, err)
	}
	side, err := row.toEscrowSide()
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("store: decoding payment request %s: %w", id, err)
	}
	return domain.PaymentRequest{
		EscrowSide: side,
		NextAction: domain.NextAction[domain.PaymentAction]{
			RequestedAction: domain.PaymentAction(row.NextAction),
			ErrorType:       domain.ErrorType(row.ErrorType),
			ErrorNote:       row.ErrorNote,
		},
	}, nil
}

// Create inserts a new payment request with next_action=WaitingForExternalAction,
// buyer wallet and on_chain_state unset (spec.md §6 create_payment). Callers
// supply req.ID (a generated UUID).
func (r *PaymentRequestRepo) Create(ctx context.Context, req domain.PaymentRequest) error {
	return createEscrowSide(ctx, r.db, "payment_requests", req.EscrowSide, string(domain.PaymentActionWaitingForExternalAction))
}

// ListPage implements query_payments' cursorId-based pagination (spec.md §6).
func (r *PaymentRequestRepo) ListPage(ctx context.Context, sourceID, cursor string, limit int) ([]domain.PaymentRequest, string, error) {
	rows, next, err := listEscrowSidePage(ctx, r.db, "payment_requests", sourceID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]domain.PaymentRequest, 0, len(rows))
	for _, row := range rows {
		side, err := row.toEscrowSide()
		if err != nil {
			return nil, "", fmt.Errorf("store: decoding payment request %s: %w", row.ID, err)
		}
		out = append(out, domain.PaymentRequest{
			EscrowSide: side,
			NextAction: domain.NextAction[domain.PaymentAction]{
				RequestedAction: domain.PaymentAction(row.NextAction),
				ErrorType:       domain.ErrorType(row.ErrorType),
				ErrorNote:       row.ErrorNote,
			},
		})
	}
	return out, next, nil
}

// ListByNextAction finds every row a dispatcher's target action selects,
// used by the dispatcher's "select rows in its target state" step.
func (r *PaymentRequestRepo) ListByNextAction(ctx context.Context, sourceID string, action domain.PaymentAction) ([]domain.PaymentRequest, error) {
	var rows []escrowSideRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+escrowSideColumns+` FROM payment_requests
		WHERE payment_source_id = $1 AND next_action = $2`, sourceID, string(action))
	if err != nil {
		return nil, fmt.Errorf("store: listing payment requests in %s: %w", action, err)
	}
	out := make([]domain.PaymentRequest, 0, len(rows))
	for _, row := range rows {
		side, err := row.toEscrowSide()
		if err != nil {
			return nil, fmt.Errorf("store: decoding payment request %s: %w", row.ID, err)
		}
		out = append(out, domain.PaymentRequest{
			EscrowSide: side,
			NextAction: domain.NextAction[domain.PaymentAction]{
				RequestedAction: domain.PaymentAction(row.NextAction),
				ErrorType:       domain.ErrorType(row.ErrorType),
				ErrorNote:       row.ErrorNote,
			},
		})
	}
	return out, nil
}

// ListDisputedPastUnlock finds every payment request parked in an on-chain
// Disputed state whose external_dispute_unlock_time has passed, the
// Withdraw Disputed dispatcher's target set (spec §4.4) — a query shaped by
// on_chain_state rather than next_action since no *Requested action exists
// for this admin-triggered path.
func (r *PaymentRequestRepo) ListDisputedPastUnlock(ctx context.Context, sourceID string, nowMs int64) ([]domain.PaymentRequest, error) {
	var rows []escrowSideRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+escrowSideColumns+` FROM payment_requests
		WHERE payment_source_id = $1 AND on_chain_state = $2 AND external_dispute_unlock_time <= $3`,
		sourceID, string(domain.OnChainDisputed), nowMs)
	if err != nil {
		return nil, fmt.Errorf("store: listing disputed payment requests past unlock: %w", err)
	}
	out := make([]domain.PaymentRequest, 0, len(rows))
	for _, row := range rows {
		side, err := row.toEscrowSide()
		if err != nil {
			return nil, fmt.Errorf("store: decoding payment request %s: %w", row.ID, err)
		}
		out = append(out, domain.PaymentRequest{
			EscrowSide: side,
			NextAction: domain.NextAction[domain.PaymentAction]{
				RequestedAction: domain.PaymentAction(row.NextAction),
				ErrorType:       domain.ErrorType(row.ErrorType),
				ErrorNote:       row.ErrorNote,
			},
		})
	}
	return out, nil
}

// GetByBlockchainIdentifier locates the mirror by its on-chain correlation
// key, as every Sync Loop classification step does (spec §4.3.1, §4.3.2).
func (r *PaymentRequestRepo) GetByBlockchainIdentifier(ctx context.Context, tx *sqlx.Tx, blockchainID string) (domain.PaymentRequest, error) {
	var row escrowSideRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+escrowSideColumns+` FROM payment_requests WHERE blockchain_identifier = $1 FOR UPDATE`, blockchainID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("store: getting payment request for %s: %w", blockchainID, err)
	}
	side, err := row.toEscrowSide()
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return domain.PaymentRequest{
		EscrowSide: side,
		NextAction: domain.NextAction[domain.PaymentAction]{
			RequestedAction: domain.PaymentAction(row.NextAction),
			ErrorType:       domain.ErrorType(row.ErrorType),
			ErrorNote:       row.ErrorNote,
		},
	}, nil
}

// ApplyTransition writes a new on_chain_state plus the deterministic
// next_action/error_type/error_note the transition table produced
// (spec §4.3.2), inside the caller's serializable transaction.
func (r *PaymentRequestRepo) ApplyTransition(ctx context.Context, tx *sqlx.Tx, id string, onChainState domain.OnChainState, next domain.NextAction[domain.PaymentAction]) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_requests
		SET on_chain_state = $2, next_action = $3, error_type = $4, error_note = $5
		WHERE id = $1`,
		id, string(onChainState), string(next.RequestedAction), string(next.ErrorType), next.ErrorNote)
	if err != nil {
		return fmt.Errorf("store: applying transition to payment request %s: %w", id, err)
	}
	return nil
}

// BeginDispatch advances a payment request to an *Initiated next_action and
// points current_transaction_id at the dispatcher's freshly-created Pending
// Transaction (spec §4.4 step 4). The prior current_transaction_id, if any,
// must already have been archived into transaction_history by the caller
// via TransactionRepo.ArchiveCurrent in the same serializable transaction.
func (r *PaymentRequestRepo) BeginDispatch(ctx context.Context, tx *sqlx.Tx, id string, action domain.PaymentAction, transactionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_requests
		SET next_action = $2, current_transaction_id = $3
		WHERE id = $1`, id, string(action), transactionID)
	if err != nil {
		return fmt.Errorf("store: beginning dispatch for payment request %s: %w", id, err)
	}
	return nil
}

// FailDispatch reverts a payment request's next_action after a dispatcher
// attempt fails, chaining errNote onto any prior note (spec §4.4 step 6).
func (r *PaymentRequestRepo) FailDispatch(ctx context.Context, tx *sqlx.Tx, id string, action domain.PaymentAction, errType domain.ErrorType, errNote string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_requests
		SET next_action = $2, error_type = $3, error_note = $4
		WHERE id = $1`, id, string(action), string(errType), errNote)
	if err != nil {
		return fmt.Errorf("store: failing dispatch for payment request %s: %w", id, err)
	}
	return nil
}

// RequestAction sets next_action to a caller-requested action and clears any
// prior error, the write behind submit_result/request_refund/
// cancel_refund_request/authorize_refund (spec.md §6). Callers run this
// inside a WithSerializable transaction after checking the row is in a state
// that accepts the request.
func (r *PaymentRequestRepo) RequestAction(ctx context.Context, tx *sqlx.Tx, id string, action domain.PaymentAction) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_requests
		SET next_action = $2, error_type = $3, error_note = ''
		WHERE id = $1`, id, string(action), string(domain.ErrorTypeNone))
	if err != nil {
		return fmt.Errorf("store: requesting action for payment request %s: %w", id, err)
	}
	return nil
}

// FindByCurrentTransactionID locates the payment request (if any) a given
// Transaction is currently blocking, used by the Rollback Handler to walk
// backwards from a rolled-back tx to the request it belonged to.
func (r *PaymentRequestRepo) FindByCurrentTransactionID(ctx context.Context, tx *sqlx.Tx, transactionID string) (domain.PaymentRequest, error) {
	var row escrowSideRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+escrowSideColumns+` FROM payment_requests WHERE current_transaction_id = $1 FOR UPDATE`, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("store: finding payment request for transaction %s: %w", transactionID, err)
	}
	side, err := row.toEscrowSide()
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return domain.PaymentRequest{
		EscrowSide: side,
		NextAction: domain.NextAction[domain.PaymentAction]{
			RequestedAction: domain.PaymentAction(row.NextAction),
			ErrorType:       domain.ErrorType(row.ErrorType),
			ErrorNote:       row.ErrorNote,
		},
	}, nil
}

// PurchaseRequestRepo is the Persistence Façade's view of purchase_requests
// (the buyer-side mirror). Its shape mirrors PaymentRequestRepo exactly —
// the two mirrors share every column, differing only in which NextAction
// enum and dispatcher family drives them.
type PurchaseRequestRepo struct{ db *sqlx.DB }

func (r *PurchaseRequestRepo) Get(ctx context.Context, id string) (domain.PurchaseRequest, error) {
	var row escrowSideRow
	err := r.db.GetContext(ctx, &row, `SELECT `+escrowSideColumns+` FROM purchase_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PurchaseRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("store: getting purchase request %s: %w", id, err)
	}
	side, err := row.toEscrowSide()
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("store: decoding purchase request %s: %w", id, err)
	}
	return domain.PurchaseRequest{
		EscrowSide: side,
		NextAction: domain.NextAction[domain.PurchasingAction]{
			RequestedAction: domain.PurchasingAction(row.NextAction),
			ErrorType:       domain.ErrorType(row.ErrorType),
			ErrorNote:       row.ErrorNote,
		},
	}, nil
}

// Create inserts a new purchase request with next_action=FundsLockingRequested
// (spec.md §6 create_purchase). Callers supply req.ID (a generated UUID).
func (r *PurchaseRequestRepo) Create(ctx context.Context, req domain.PurchaseRequest) error {
	return createEscrowSide(ctx, r.db, "purchase_requests", req.EscrowSide, string(domain.PurchasingActionFundsLockingRequested))
}

// ListPage implements query_purchases' cursorId-based pagination (spec.md §6).
func (r *PurchaseRequestRepo) ListPage(ctx context.Context, sourceID, cursor string, limit int) ([]domain.PurchaseRequest, string, error) {
	rows, next, err := listEscrowSidePage(ctx, r.db, "purchase_requests", sourceID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]domain.PurchaseRequest, 0, len(rows))
	for _, row := range rows {
		side, err := row.toEscrowSide()
		if err != nil {
			return nil, "", fmt.Errorf("store: decoding purchase request %s: %w", row.ID, err)
		}
		out = append(out, domain.PurchaseRequest{
			EscrowSide: side,
			NextAction: domain.NextAction[domain.PurchasingAction]{
				RequestedAction: domain.PurchasingAction(row.NextAction),
				ErrorType:       domain.ErrorType(row.ErrorType),
				ErrorNote:       row.ErrorNote,
			},
		})
	}
	return out, next, nil
}

func (r *PurchaseRequestRepo) ListByNextAction(ctx context.Context, sourceID string, action domain.PurchasingAction) ([]domain.PurchaseRequest, error) {
	var rows []escrowSideRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+escrowSideColumns+` FROM purchase_requests
		WHERE payment_source_id = $1 AND next_action = $2`, sourceID, string(action))
	if err != nil {
		return nil, fmt.Errorf("store: listing purchase requests in %s: %w", action, err)
	}
	out := make([]domain.PurchaseRequest, 0, len(rows))
	for _, row := range rows {
		side, err := row.toEscrowSide()
		if err != nil {
			return nil, fmt.Errorf("store: decoding purchase request %s: %w", row.ID, err)
		}
		out = append(out, domain.PurchaseRequest{
			EscrowSide: side,
			NextAction: domain.NextAction[domain.PurchasingAction]{
				RequestedAction: domain.PurchasingAction(row.NextAction),
				ErrorType:       domain.ErrorType(row.ErrorType),
				ErrorNote:       row.ErrorNote,
			},
		})
	}
	return out, nil
}

func (r *PurchaseRequestRepo) GetByBlockchainIdentifier(ctx context.Context, tx *sqlx.Tx, blockchainID string) (domain.PurchaseRequest, error) {
	var row escrowSideRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+escrowSideColumns+` FROM purchase_requests WHERE blockchain_identifier = $1 FOR UPDATE`, blockchainID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PurchaseRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("store: getting purchase request for %s: %w", blockchainID, err)
	}
	side, err := row.toEscrowSide()
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	return domain.PurchaseRequest{
		EscrowSide: side,
		NextAction: domain.NextAction[domain.PurchasingAction]{
			RequestedAction: domain.PurchasingAction(row.NextAction),
			ErrorType:       domain.ErrorType(row.ErrorType),
			ErrorNote:       row.ErrorNote,
		},
	}, nil
}

func (r *PurchaseRequestRepo) ApplyTransition(ctx context.Context, tx *sqlx.Tx, id string, onChainState domain.OnChainState, next domain.NextAction[domain.PurchasingAction]) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE purchase_requests
		SET on_chain_state = $2, next_action = $3, error_type = $4, error_note = $5
		WHERE id = $1`,
		id, string(onChainState), string(next.RequestedAction), string(next.ErrorType), next.ErrorNote)
	if err != nil {
		return fmt.Errorf("store: applying transition to purchase request %s: %w", id, err)
	}
	return nil
}

// BeginDispatch is PaymentRequestRepo.BeginDispatch's buyer-side counterpart.
func (r *PurchaseRequestRepo) BeginDispatch(ctx context.Context, tx *sqlx.Tx, id string, action domain.PurchasingAction, transactionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE purchase_requests
		SET next_action = $2, current_transaction_id = $3
		WHERE id = $1`, id, string(action), transactionID)
	if err != nil {
		return fmt.Errorf("store: beginning dispatch for purchase request %s: %w", id, err)
	}
	return nil
}

// FailDispatch is PaymentRequestRepo.FailDispatch's buyer-side counterpart.
func (r *PurchaseRequestRepo) FailDispatch(ctx context.Context, tx *sqlx.Tx, id string, action domain.PurchasingAction, errType domain.ErrorType, errNote string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE purchase_requests
		SET next_action = $2, error_type = $3, error_note = $4
		WHERE id = $1`, id, string(action), string(errType), errNote)
	if err != nil {
		return fmt.Errorf("store: failing dispatch for purchase request %s: %w", id, err)
	}
	return nil
}

// RequestAction is PaymentRequestRepo.RequestAction's buyer-side counterpart.
func (r *PurchaseRequestRepo) RequestAction(ctx context.Context, tx *sqlx.Tx, id string, action domain.PurchasingAction) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE purchase_requests
		SET next_action = $2, error_type = $3, error_note = ''
		WHERE id = $1`, id, string(action), string(domain.ErrorTypeNone))
	if err != nil {
		return fmt.Errorf("store: requesting action for purchase request %s: %w", id, err)
	}
	return nil
}

// FindByCurrentTransactionID is PaymentRequestRepo.FindByCurrentTransactionID's
// buyer-side counterpart.
func (r *PurchaseRequestRepo) FindByCurrentTransactionID(ctx context.Context, tx *sqlx.Tx, transactionID string) (domain.PurchaseRequest, error) {
	var row escrowSideRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+escrowSideColumns+` FROM purchase_requests WHERE current_transaction_id = $1 FOR UPDATE`, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PurchaseRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("store: finding purchase request for transaction %s: %w", transactionID, err)
	}
	side, err := row.toEscrowSide()
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	return domain.PurchaseRequest{
		EscrowSide: side,
		NextAction: domain.NextAction[domain.PurchasingAction]{
			RequestedAction: domain.PurchasingAction(row.NextAction),
			ErrorType:       domain.ErrorType(row.ErrorType),
			ErrorNote:       row.ErrorNote,
		},
	}, nil
}

// createEscrowSide is the shared insert behind PaymentRequestRepo.Create and
// PurchaseRequestRepo.Create: the two mirrors are created identically, only
// the target table and the initial next_action differ (spec.md §6
// create_payment/create_purchase).
func createEscrowSide(ctx context.Context, db *sqlx.DB, table string, side domain.EscrowSide, nextAction string) error {
	table = validTableIdent(table)

	requestedFunds, err := marshalJSON(side.RequestedFunds)
	if err != nil {
		return err
	}

	var counterpartyVKey, counterpartyAddr sql.NullString
	if side.CounterpartyWallet != nil {
		counterpartyVKey = sql.NullString{String: side.CounterpartyWallet.VKey, Valid: true}
		counterpartyAddr = sql.NullString{String: side.CounterpartyWallet.Address, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+table+` (
			id, payment_source_id, blockchain_identifier, input_hash, result_hash,
			pay_by_time, submit_result_time, unlock_time, external_dispute_unlock_time,
			collateral_return_lovelace, requested_funds,
			smart_contract_wallet_id, counterparty_vkey, counterparty_address,
			next_action, error_type, error_note
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		side.ID, side.PaymentSourceID, side.BlockchainIdentifier, side.InputHash, side.ResultHash,
		side.PayByTime, side.SubmitResultTime, side.UnlockTime, side.ExternalDisputeUnlockTime,
		side.CollateralReturnLovelace, requestedFunds,
		side.SmartContractWalletID, counterpartyVKey, counterpartyAddr,
		nextAction, string(domain.ErrorTypeNone), "")
	if err != nil {
		return fmt.Errorf("store: creating %s %s: %w", table, side.ID, err)
	}
	return nil
}

// listEscrowSidePage is the shared keyset-pagination query behind
// PaymentRequestRepo.ListPage/PurchaseRequestRepo.ListPage (spec.md §6
// query_payments/query_purchases, page size 10, cursorId-based).
func listEscrowSidePage(ctx context.Context, db *sqlx.DB, table, sourceID, cursor string, limit int) ([]escrowSideRow, string, error) {
	table = validTableIdent(table)

	var rows []escrowSideRow
	err := db.SelectContext(ctx, &rows, `
		SELECT `+escrowSideColumns+` FROM `+table+`
		WHERE payment_source_id = $1 AND ($2 = '' OR id > $2)
		ORDER BY id LIMIT $3`, sourceID, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("store: listing %s page: %w", table, err)
	}
	nextCursor := ""
	if len(rows) == limit {
		nextCursor = rows[len(rows)-1].ID
	}
	return rows, nextCursor, nil
}
