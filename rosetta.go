package cardano

// Rosetta wire types shared by the client, the orchestrator and the fake
// server. Field names follow the cardano-rosetta JSON encoding.

const (
	CurveEdwards25519 = "edwards25519"
	SignatureEd25519  = "ed25519"

	CoinSpent   = "coin_spent"
	CoinCreated = "coin_created"

	StatusSuccess = "success"
)

var AdaCurrency = Currency{Symbol: "ADA", Decimals: 6}

type NetworkIdentifier struct {
	Blockchain string `json:"blockchain"`
	Network    string `json:"network"`
}

func (n Network) Identifier() NetworkIdentifier {
	return NetworkIdentifier{Blockchain: RosettaBlockchain, Network: string(n)}
}

type AccountIdentifier struct {
	Address  string         `json:"address"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Currency struct {
	Symbol   string         `json:"symbol"`
	Decimals int32          `json:"decimals"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Amount struct {
	Value    string   `json:"value"`
	Currency Currency `json:"currency"`
}

type OperationIdentifier struct {
	Index        int64  `json:"index"`
	NetworkIndex *int64 `json:"network_index,omitempty"`
}

type CoinIdentifier struct {
	Identifier string `json:"identifier"`
}

type CoinChange struct {
	CoinIdentifier CoinIdentifier `json:"coin_identifier"`
	CoinAction     string         `json:"coin_action"`
}

type PublicKey struct {
	HexBytes  string `json:"hex_bytes"`
	CurveType string `json:"curve_type"`
}

type RosettaOperation struct {
	OperationIdentifier OperationIdentifier   `json:"operation_identifier"`
	RelatedOperations   []OperationIdentifier `json:"related_operations,omitempty"`
	Type                string                `json:"type"`
	Status              string                `json:"status,omitempty"`
	Account             *AccountIdentifier    `json:"account,omitempty"`
	Amount              *Amount               `json:"amount,omitempty"`
	CoinChange          *CoinChange           `json:"coin_change,omitempty"`
	Metadata            *OperationMetadata    `json:"metadata,omitempty"`
}

type OperationMetadata struct {
	StakingCredential        *PublicKey                `json:"staking_credential,omitempty"`
	PoolKeyHash              string                    `json:"pool_key_hash,omitempty"`
	Epoch                    *int64                    `json:"epoch,omitempty"`
	PoolRegistrationCert     string                    `json:"poolRegistrationCert,omitempty"`
	PoolRegistrationParams   *PoolRegistrationParams   `json:"poolRegistrationParams,omitempty"`
	DRep                     *DRep                     `json:"drep,omitempty"`
	PoolGovernanceVoteParams *PoolGovernanceVoteParams `json:"poolGovernanceVoteParams,omitempty"`
	WithdrawalAmount         *Amount                   `json:"withdrawalAmount,omitempty"`
	DepositAmount            *Amount                   `json:"depositAmount,omitempty"`
	RefundAmount             *Amount                   `json:"refundAmount,omitempty"`
	TokenBundle              []TokenBundle             `json:"tokenBundle,omitempty"`
}

type DRepType string

const (
	DRepKeyHash      DRepType = "key_hash"
	DRepScriptHash   DRepType = "script_hash"
	DRepAbstain      DRepType = "abstain"
	DRepNoConfidence DRepType = "no_confidence"
)

type DRep struct {
	ID   string   `json:"id,omitempty"`
	Type DRepType `json:"type"`
}

type Relay struct {
	Type    string `json:"type"`
	Ipv4    string `json:"ipv4,omitempty"`
	Ipv6    string `json:"ipv6,omitempty"`
	DnsName string `json:"dnsName,omitempty"`
	Port    string `json:"port,omitempty"`
}

type PoolMargin struct {
	Numerator   string `json:"numerator"`
	Denominator string `json:"denominator"`
}

type PoolMetadata struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

type PoolRegistrationParams struct {
	VrfKeyHash    string        `json:"vrfKeyHash"`
	RewardAddress string        `json:"rewardAddress"`
	Pledge        string        `json:"pledge"`
	Cost          string        `json:"cost"`
	PoolOwners    []string      `json:"poolOwners"`
	Relays        []Relay       `json:"relays"`
	Margin        *PoolMargin   `json:"margin,omitempty"`
	PoolMetadata  *PoolMetadata `json:"poolMetadata,omitempty"`
}

type VoteRationale struct {
	URL      string `json:"url"`
	DataHash string `json:"data_hash"`
}

type PoolGovernanceVoteParams struct {
	GovernanceActionHash string         `json:"governance_action_hash"`
	PoolCredential       PublicKey      `json:"pool_credential"`
	Vote                 string         `json:"vote"`
	VoteRationale        *VoteRationale `json:"vote_rationale,omitempty"`
}

type Token struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
}

type TokenBundle struct {
	PolicyID string  `json:"policyId"`
	Tokens   []Token `json:"tokens"`
}

// SigningPayload is produced by /construction/payloads, one per required
// signer.
type SigningPayload struct {
	AccountIdentifier *AccountIdentifier `json:"account_identifier,omitempty"`
	Address           string             `json:"address,omitempty"`
	HexBytes          string             `json:"hex_bytes"`
	SignatureType     string             `json:"signature_type,omitempty"`
}

// Account prefers the account identifier over the deprecated address field.
func (p SigningPayload) Account() string {
	if p.AccountIdentifier != nil {
		return p.AccountIdentifier.Address
	}
	return p.Address
}

type Signature struct {
	SigningPayload SigningPayload `json:"signing_payload"`
	PublicKey      PublicKey      `json:"public_key"`
	SignatureType  string         `json:"signature_type"`
	HexBytes       string         `json:"hex_bytes"`
}

// SignFunc is any signer of construction payloads.
type SignFunc func(payload SigningPayload) (Signature, error)

type TransactionIdentifier struct {
	Hash string `json:"hash"`
}

type BlockIdentifier struct {
	Index int64  `json:"index"`
	Hash  string `json:"hash"`
}

type Transaction struct {
	TransactionIdentifier TransactionIdentifier `json:"transaction_identifier"`
	Operations            []RosettaOperation    `json:"operations"`
	Metadata              map[string]any        `json:"metadata,omitempty"`
}
