package domain

import "time"

// PaymentSource is a contract deployment record: one smart-contract address
// on one network, with its own admin wallets, hot wallets and requests.
type PaymentSource struct {
	ID                    string
	Network               Network
	SmartContractAddress  string
	PolicyID              string
	FeeRatePermille       int
	AdminWalletAddresses  []string // ordered, 2-5 entries
	RPCProviderAPIKey     string
	LastIdentifierChecked *string // tx-hash cursor, nullable
	SyncInProgress        bool
	SyncInProgressSince   *time.Time
	DisabledAt            *time.Time
	DeletedAt             *time.Time
}

// AdminThreshold returns the ceil(N/2)+... default of a 2-of-3 multi-sig,
// generalized to whatever admin set size the source was configured with.
// spec.md §4.4 names "≥2, default 2-of-3" without a formula; we take the
// smallest majority of the configured set, floored at 2.
func (p *PaymentSource) AdminThreshold() int {
	n := len(p.AdminWalletAddresses)
	t := (n / 2) + 1
	if t < 2 {
		t = 2
	}
	if t > n {
		t = n
	}
	return t
}

// HotWallet is a coordinator-controlled signing key for one PaymentSource.
type HotWallet struct {
	ID                string
	PaymentSourceID   string
	Role              WalletRole
	VKey              string
	Address           string
	CollectionAddress *string
	EncryptedMnemonic []byte // opaque; only walletsigner ever reads this
	LockedAt          *time.Time
	Note              string
}

// Locked reports whether the wallet is currently held, per spec.md §4.5:
// locked while LockedAt is set, regardless of stale-lock reclamation (the
// caller applies LOCK_TIMEOUT separately via store.HotWallets.ReclaimStale).
func (w *HotWallet) Locked() bool {
	return w.LockedAt != nil
}

// AmountEntry is one leg of a multiset of chain amounts: a unit (either
// "lovelace" or "policyid.assetname") and a quantity in its smallest unit.
type AmountEntry struct {
	Unit   string
	Amount int64
}

// NextAction is the generic (requested_action, error_type, error_note)
// triple shared by PaymentRequest and PurchaseRequest, parameterized by
// the action enum of whichever side embeds it.
type NextAction[A ~string] struct {
	RequestedAction A
	ErrorType       ErrorType
	ErrorNote       string
}

// WalletBase is the foreign counterparty (buyer or seller) recorded once a
// request observes their vkey/address on chain; it is not one of the
// coordinator's own HotWallets.
type WalletBase struct {
	VKey    string
	Address string
}

// EscrowSide holds every field PaymentRequest and PurchaseRequest share;
// each embeds it with its own NextAction action-enum and wallet roles
// (Design Note: "Cross-entity mirrors").
type EscrowSide struct {
	ID                         string
	PaymentSourceID            string
	BlockchainIdentifier       string
	InputHash                  string
	ResultHash                 string
	PayByTime                  int64 // epoch-ms
	SubmitResultTime           int64
	UnlockTime                 int64
	ExternalDisputeUnlockTime  int64
	BuyerCooldownTime          int64
	SellerCooldownTime         int64
	CollateralReturnLovelace   int64
	RequestedFunds             []AmountEntry
	PaidFunds                  []AmountEntry
	OnChainState               *OnChainState // nil until first observed on chain
	CurrentTransactionID       *string
	TransactionHistory         []string // ordered Transaction IDs, oldest first
	WithdrawnForSeller         []AmountEntry
	WithdrawnForBuyer          []AmountEntry
	SmartContractWalletID      string // the coordinator's own HotWallet for this side
	CounterpartyWallet         *WalletBase
}

// PaymentRequest is the seller-side mirror: SmartContractWallet has
// WalletRoleSelling, CounterpartyWallet (if set) is the buyer.
type PaymentRequest struct {
	EscrowSide
	NextAction NextAction[PaymentAction]
}

// PurchaseRequest is the buyer-side mirror: SmartContractWallet has
// WalletRolePurchasing, CounterpartyWallet (if set) is the seller.
type PurchaseRequest struct {
	EscrowSide
	NextAction NextAction[PurchasingAction]
}

// RegistryRequest represents a seller's intent to mint (or burn) an agent
// identifier NFT.
type RegistryRequest struct {
	ID               string
	PaymentSourceID  string
	SellingWalletID  string
	Name             string
	Description      string
	APIBaseURL       string
	Capability       Capability
	Author           Author
	Legal            Legal
	Tags             []string
	ExampleOutputs   []string
	Pricing          Pricing
	MetadataVersion  int
	AgentIdentifier  string // policy_id ‖ asset_name, set after mint; 120 hex chars
	State            RegistrationState
	CurrentTransactionID *string
	Error            *string
}

type Capability struct {
	Name    string
	Version string
}

type Author struct {
	Name        string
	ContactInfo string
	Organization string
}

type Legal struct {
	PrivacyPolicy string
	Terms         string
	Other         string
}

type PricingType string

const (
	PricingFixed PricingType = "Fixed"
	PricingFree  PricingType = "Free"
)

type Pricing struct {
	Type    PricingType
	Amounts []AmountEntry
}

// Transaction is a row tracking one on-chain submission, possibly holding a
// wallet lock until it leaves Pending (spec.md I2, §4.5).
type Transaction struct {
	ID            string
	TxHash        string // empty until the submit response is recorded
	Status        TransactionStatus
	BlocksWalletID *string
}

// PaymentSourceIdentifier is one entry in the append-only cursor trail used
// to detect rollbacks (spec.md I7).
type PaymentSourceIdentifier struct {
	ID              string
	PaymentSourceID string
	TxHash          string
	BlockTimeMs     int64
	ObservedAt      time.Time
}
