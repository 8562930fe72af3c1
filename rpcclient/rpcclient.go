package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const DefaultTimeout = 30 * time.Second

// CodeTransactionNotFound is the cardano-rosetta error code for a
// transaction missing from the requested block.
const CodeTransactionNotFound = 4006

func NewRpcClient(hostPort string, network Network) (client *RpcClient, err error) {
	if err = network.Validate(); err != nil {
		return
	}

	if !strings.HasPrefix(hostPort, "http://") && !strings.HasPrefix(hostPort, "https://") {
		hostPort = "http://" + hostPort
	}

	client = &RpcClient{
		HostPort: strings.TrimSuffix(hostPort, "/"),
		Network:  network,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
	return
}

// RpcClient talks to a Rosetta Construction and Data API. Every call is a
// single request with no retry.
type RpcClient struct {
	HostPort string
	Network  Network
	http     *http.Client
}

var _ UtxoSource = &RpcClient{}

func (c *RpcClient) SetTimeout(timeout time.Duration) {
	c.http.Timeout = timeout
}

func (c *RpcClient) post(ctx context.Context, path string, in any, target any, kind error) (err error) {
	jsn, err := json.Marshal(in)
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.HostPort+path, bytes.NewReader(jsn))
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	rsp, err := c.http.Do(req)
	if err != nil {
		err = errors.Wrapf(ErrNetwork, "%s: %v", path, err)
		return
	}
	defer rsp.Body.Close()

	out, err := io.ReadAll(rsp.Body)
	if err != nil {
		err = errors.Wrapf(ErrNetwork, "%s: reading body: %v", path, err)
		return
	}

	if rsp.StatusCode/100 != 2 {
		if rosettaErr := decodeRosettaError(out, kind); rosettaErr != nil {
			err = errors.WithStack(rosettaErr)
			return
		}

		err = errors.Wrapf(kind, "%s: response code %d with body %s", path, rsp.StatusCode, string(out))
		return
	}

	if target == nil {
		return
	}

	err = json.Unmarshal(out, target)
	if err != nil {
		err = errors.Wrapf(ErrRpcFailed, "unable to unmarshal %s body: %s", path, string(out))
		return
	}

	return
}

// RosettaError is the error body the API returns with non-2xx responses.
// Kind is the sentinel the failing endpoint maps to.
type RosettaError struct {
	Code      int64
	Message   string
	Retriable bool
	Details   string
	Kind      error
}

func (r *RosettaError) Error() string {
	msg := fmt.Sprintf("%s (code %d)", r.Message, r.Code)
	if r.Details != "" {
		msg += ": " + r.Details
	}
	return msg
}

func (r *RosettaError) Unwrap() error {
	return r.Kind
}

// NotFound reports whether the body describes a missing transaction.
func (r *RosettaError) NotFound() bool {
	return r.Code == CodeTransactionNotFound ||
		strings.EqualFold(strings.TrimSpace(r.Message), "transaction not found")
}

func decodeRosettaError(body []byte, kind error) *RosettaError {
	if !gjson.ValidBytes(body) {
		return nil
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.Get("code").Exists() || !parsed.Get("message").Exists() {
		return nil
	}

	details := parsed.Get("details.message").String()
	if details == "" && parsed.Get("details").Exists() {
		details = parsed.Get("details").Raw
	}

	return &RosettaError{
		Code:      parsed.Get("code").Int(),
		Message:   parsed.Get("message").String(),
		Retriable: parsed.Get("retriable").Bool(),
		Details:   details,
		Kind:      kind,
	}
}

type PreprocessMetadata struct {
	RelativeTTL       int64              `json:"relative_ttl,omitempty"`
	DepositParameters *DepositParameters `json:"deposit_parameters,omitempty"`
}

type PreprocessIn struct {
	NetworkIdentifier NetworkIdentifier   `json:"network_identifier"`
	Operations        []RosettaOperation  `json:"operations"`
	Metadata          *PreprocessMetadata `json:"metadata,omitempty"`
}

type PreprocessOut struct {
	Options            map[string]any      `json:"options"`
	RequiredPublicKeys []AccountIdentifier `json:"required_public_keys,omitempty"`
}

func (c *RpcClient) Preprocess(ctx context.Context, ops []RosettaOperation, metadata *PreprocessMetadata) (out *PreprocessOut, err error) {
	out = &PreprocessOut{}
	err = c.post(ctx, "/construction/preprocess", &PreprocessIn{
		NetworkIdentifier: c.Network.Identifier(),
		Operations:        ops,
		Metadata:          metadata,
	}, out, ErrRpcFailed)
	return
}

type MetadataIn struct {
	NetworkIdentifier NetworkIdentifier `json:"network_identifier"`
	Options           map[string]any    `json:"options"`
	PublicKeys        []PublicKey       `json:"public_keys,omitempty"`
}

type MetadataOut struct {
	Metadata     map[string]any `json:"metadata"`
	SuggestedFee []Amount       `json:"suggested_fee"`
}

// Fee is the first suggested ADA fee in lovelace.
func (o *MetadataOut) Fee() (fee uint64, err error) {
	for _, a := range o.SuggestedFee {
		if a.Currency.Symbol != AdaCurrency.Symbol {
			continue
		}
		fee, err = strconv.ParseUint(a.Value, 10, 64)
		if err != nil {
			err = errors.Wrapf(ErrRpcFailed, "suggested fee '%s' is not a lovelace amount", a.Value)
		}
		return
	}
	err = errors.Wrap(ErrRpcFailed, "metadata response has no ADA suggested fee")
	return
}

func (c *RpcClient) Metadata(ctx context.Context, options map[string]any, publicKeys []PublicKey) (out *MetadataOut, err error) {
	out = &MetadataOut{}
	err = c.post(ctx, "/construction/metadata", &MetadataIn{
		NetworkIdentifier: c.Network.Identifier(),
		Options:           options,
		PublicKeys:        publicKeys,
	}, out, ErrRpcFailed)
	return
}

type PayloadsIn struct {
	NetworkIdentifier NetworkIdentifier  `json:"network_identifier"`
	Operations        []RosettaOperation `json:"operations"`
	Metadata          map[string]any     `json:"metadata"`
	PublicKeys        []PublicKey        `json:"public_keys,omitempty"`
}

type PayloadsOut struct {
	UnsignedTransaction string           `json:"unsigned_transaction"`
	Payloads            []SigningPayload `json:"payloads"`
}

func (c *RpcClient) Payloads(ctx context.Context, ops []RosettaOperation, metadata map[string]any) (out *PayloadsOut, err error) {
	out = &PayloadsOut{}
	err = c.post(ctx, "/construction/payloads", &PayloadsIn{
		NetworkIdentifier: c.Network.Identifier(),
		Operations:        ops,
		Metadata:          metadata,
	}, out, ErrRpcFailed)
	return
}

type ParseIn struct {
	NetworkIdentifier NetworkIdentifier `json:"network_identifier"`
	Signed            bool              `json:"signed"`
	Transaction       string            `json:"transaction"`
}

type ParseOut struct {
	Operations               []RosettaOperation  `json:"operations"`
	AccountIdentifierSigners []AccountIdentifier `json:"account_identifier_signers,omitempty"`
}

func (c *RpcClient) Parse(ctx context.Context, tx string, signed bool) (out *ParseOut, err error) {
	out = &ParseOut{}
	err = c.post(ctx, "/construction/parse", &ParseIn{
		NetworkIdentifier: c.Network.Identifier(),
		Signed:            signed,
		Transaction:       tx,
	}, out, ErrRpcFailed)
	return
}

type CombineIn struct {
	NetworkIdentifier   NetworkIdentifier `json:"network_identifier"`
	UnsignedTransaction string            `json:"unsigned_transaction"`
	Signatures          []Signature       `json:"signatures"`
}

type CombineOut struct {
	SignedTransaction string `json:"signed_transaction"`
}

func (c *RpcClient) Combine(ctx context.Context, unsigned string, signatures []Signature) (out *CombineOut, err error) {
	out = &CombineOut{}
	err = c.post(ctx, "/construction/combine", &CombineIn{
		NetworkIdentifier:   c.Network.Identifier(),
		UnsignedTransaction: unsigned,
		Signatures:          signatures,
	}, out, ErrRpcFailed)
	return
}

type SignedTransactionIn struct {
	NetworkIdentifier NetworkIdentifier `json:"network_identifier"`
	SignedTransaction string            `json:"signed_transaction"`
}

type TransactionIdentifierOut struct {
	TransactionIdentifier TransactionIdentifier `json:"transaction_identifier"`
}

func (c *RpcClient) Hash(ctx context.Context, signed string) (out *TransactionIdentifierOut, err error) {
	out = &TransactionIdentifierOut{}
	err = c.post(ctx, "/construction/hash", &SignedTransactionIn{
		NetworkIdentifier: c.Network.Identifier(),
		SignedTransaction: signed,
	}, out, ErrRpcFailed)
	return
}

// Submit broadcasts a signed transaction. Any rejection unwraps to
// ErrSubmission.
func (c *RpcClient) Submit(ctx context.Context, signed string) (out *TransactionIdentifierOut, err error) {
	out = &TransactionIdentifierOut{}
	err = c.post(ctx, "/construction/submit", &SignedTransactionIn{
		NetworkIdentifier: c.Network.Identifier(),
		SignedTransaction: signed,
	}, out, ErrSubmission)
	return
}

type SearchTransactionsIn struct {
	NetworkIdentifier     NetworkIdentifier      `json:"network_identifier"`
	TransactionIdentifier *TransactionIdentifier `json:"transaction_identifier,omitempty"`
	Limit                 int64                  `json:"limit,omitempty"`
}

type BlockTransaction struct {
	BlockIdentifier BlockIdentifier `json:"block_identifier"`
	Transaction     Transaction     `json:"transaction"`
}

type SearchTransactionsOut struct {
	Transactions []BlockTransaction `json:"transactions"`
	TotalCount   int64              `json:"total_count"`
}

// SearchTransaction looks a transaction up by hash. Only an empty result is
// reported as ErrTransactionNotFound; error responses are ErrRpcFailed.
func (c *RpcClient) SearchTransaction(ctx context.Context, hash string) (out *BlockTransaction, err error) {
	rsp := &SearchTransactionsOut{}
	err = c.post(ctx, "/search/transactions", &SearchTransactionsIn{
		NetworkIdentifier:     c.Network.Identifier(),
		TransactionIdentifier: &TransactionIdentifier{Hash: hash},
	}, rsp, ErrRpcFailed)
	if err != nil {
		return
	}

	for i := range rsp.Transactions {
		if rsp.Transactions[i].Transaction.TransactionIdentifier.Hash == hash {
			return &rsp.Transactions[i], nil
		}
	}

	err = errors.Wrapf(ErrTransactionNotFound, "search for %s returned no match", hash)
	return
}

type BlockTransactionIn struct {
	NetworkIdentifier     NetworkIdentifier     `json:"network_identifier"`
	BlockIdentifier       BlockIdentifier       `json:"block_identifier"`
	TransactionIdentifier TransactionIdentifier `json:"transaction_identifier"`
}

type BlockTransactionOut struct {
	Transaction Transaction `json:"transaction"`
}

// BlockTransaction fetches a transaction from a block. A "transaction not
// found" error body unwraps to ErrTransactionNotFound, any other failure to
// ErrRpcFailed.
func (c *RpcClient) BlockTransaction(ctx context.Context, block BlockIdentifier, hash string) (out *BlockTransactionOut, err error) {
	out = &BlockTransactionOut{}
	err = c.post(ctx, "/block/transaction", &BlockTransactionIn{
		NetworkIdentifier:     c.Network.Identifier(),
		BlockIdentifier:       block,
		TransactionIdentifier: TransactionIdentifier{Hash: hash},
	}, out, ErrRpcFailed)

	var rosettaErr *RosettaError
	if errors.As(err, &rosettaErr) && rosettaErr.NotFound() {
		rosettaErr.Kind = ErrTransactionNotFound
	}
	return
}

type AccountCoinsIn struct {
	NetworkIdentifier NetworkIdentifier `json:"network_identifier"`
	AccountIdentifier AccountIdentifier `json:"account_identifier"`
	IncludeMempool    bool              `json:"include_mempool"`
}

type Coin struct {
	CoinIdentifier CoinIdentifier           `json:"coin_identifier"`
	Amount         Amount                   `json:"amount"`
	Metadata       map[string][]TokenBundle `json:"metadata,omitempty"`
}

type AccountCoinsOut struct {
	BlockIdentifier BlockIdentifier `json:"block_identifier"`
	Coins           []Coin          `json:"coins"`
}

func (c *RpcClient) AccountCoins(ctx context.Context, address string) (out *AccountCoinsOut, err error) {
	out = &AccountCoinsOut{}
	err = c.post(ctx, "/account/coins", &AccountCoinsIn{
		NetworkIdentifier: c.Network.Identifier(),
		AccountIdentifier: AccountIdentifier{Address: address},
	}, out, ErrRpcFailed)
	return
}

// GetUtxosForAddress lists an address' coins as utxos. Token bundles are
// keyed by coin identifier in the coin metadata.
func (c *RpcClient) GetUtxosForAddress(ctx context.Context, address string) (utxos []Utxo, err error) {
	coins, err := c.AccountCoins(ctx, address)
	if err != nil {
		return
	}

	utxos = make([]Utxo, 0, len(coins.Coins))
	for _, coin := range coins.Coins {
		id := coin.CoinIdentifier.Identifier

		txHash, index, err2 := ParseCoinIdentifier(id)
		if err2 != nil {
			return nil, err2
		}

		lovelace, err2 := strconv.ParseUint(coin.Amount.Value, 10, 64)
		if err2 != nil {
			return nil, errors.Wrapf(ErrRpcFailed, "coin %s amount '%s'", id, coin.Amount.Value)
		}

		utxos = append(utxos, Utxo{
			TxHash:   txHash,
			Index:    index,
			Owner:    address,
			Lovelace: lovelace,
			Assets:   coin.Metadata[id],
		})
	}

	return
}
