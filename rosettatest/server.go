package rosettatest

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cardano-rosetta-go/rpcclient"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Rosetta error codes returned by the fake server.
const (
	CodeInvalidRequest     = 4000
	CodeNetworkMismatch    = 4001
	CodeInvalidTransaction = 4002
	CodeInvalidSignature   = 4003
	CodeSubmitRejected     = 4004
	CodeTransactionMissing = 4006
)

var log = Log()

type Config struct {
	Network Network
	Params  ProtocolParameters
	// FixedFee replaces the linear fee estimate when non-zero.
	FixedFee uint64
	// ConfirmAfter delays the visibility of submitted transactions.
	ConfirmAfter time.Duration
}

// Server is an in-process Rosetta Construction and Data API over an in-memory
// ledger.
type Server struct {
	app      *fiber.App
	config   Config
	listener net.Listener
	mu       sync.Mutex
	ledger   *ledger
	now      func() time.Time
}

func New(config Config) *Server {
	if config.Network == "" {
		config.Network = NetworkPreProd
	}
	if config.Params == (ProtocolParameters{}) {
		config.Params = DefaultProtocolParameters
	}

	s := &Server{
		config: config,
		ledger: newLedger(config.Network, config.Params),
		now:    time.Now,
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(func(c *fiber.Ctx) error {
		rsp := c.Next()
		log.Trace().Msgf("rosettatest: [%d] %s %s", c.Response().StatusCode(), c.Method(), c.Path())
		return rsp
	})
	s.app.Use(s.checkNetwork)

	s.app.Post("/construction/preprocess", s.postPreprocess)
	s.app.Post("/construction/metadata", s.postMetadata)
	s.app.Post("/construction/payloads", s.postPayloads)
	s.app.Post("/construction/parse", s.postParse)
	s.app.Post("/construction/combine", s.postCombine)
	s.app.Post("/construction/hash", s.postHash)
	s.app.Post("/construction/submit", s.postSubmit)
	s.app.Post("/search/transactions", s.postSearchTransactions)
	s.app.Post("/block/transaction", s.postBlockTransaction)
	s.app.Post("/account/coins", s.postAccountCoins)

	return s
}

// Start listens on hostPort, or a random loopback port when it is empty.
func (s *Server) Start(hostPort string) (err error) {
	if hostPort == "" {
		hostPort = "127.0.0.1:0"
	}

	s.listener, err = net.Listen("tcp", hostPort)
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	log.Info().Msgf("rosetta fake listening on %s (%s)", s.listener.Addr(), s.config.Network)

	go func() {
		if err2 := s.app.Listener(s.listener); err2 != nil {
			log.Error().Msgf("rosetta fake stopped: %v", err2)
		}
	}()

	return
}

func (s *Server) Stop() error {
	return errors.WithStack(s.app.Shutdown())
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) URL() string {
	return "http://" + s.Addr()
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Fund adds one utxo per amount to the address.
func (s *Server) Fund(address string, lovelace ...uint64) []Utxo {
	s.mu.Lock()
	defer s.mu.Unlock()

	utxos := make([]Utxo, 0, len(lovelace))
	for _, l := range lovelace {
		utxos = append(utxos, s.ledger.fund(address, l))
	}
	return utxos
}

func (s *Server) Utxos(address string) []Utxo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.utxosFor(address)
}

func (s *Server) StakeRegistered(stakeAddress string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.stake[stakeAddress]
}

// RegisterPool marks a pool as registered without a transaction.
func (s *Server) RegisterPool(poolKeyHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.pools[poolKeyHash] = true
}

func (s *Server) Submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := make([]string, 0, len(s.ledger.txs))
	for h := range s.ledger.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

func (s *Server) fee(size uint64) uint64 {
	if s.config.FixedFee > 0 {
		return s.config.FixedFee
	}
	return s.config.Params.LinearFee(size)
}

func (s *Server) errorResponse(c *fiber.Ctx, code int, message string, err error) error {
	details := map[string]any{}
	if err != nil {
		details["message"] = err.Error()
	}
	return c.Status(http.StatusInternalServerError).JSON(map[string]any{
		"code":      code,
		"message":   message,
		"retriable": false,
		"details":   details,
	})
}

func (s *Server) checkNetwork(c *fiber.Ctx) error {
	network := gjson.GetBytes(c.Body(), "network_identifier.network").String()
	blockchain := gjson.GetBytes(c.Body(), "network_identifier.blockchain").String()
	if network != string(s.config.Network) || blockchain != RosettaBlockchain {
		return s.errorResponse(
			c,
			CodeNetworkMismatch,
			"Network not found",
			errors.Errorf("expected %s/%s, got %s/%s", RosettaBlockchain, s.config.Network, blockchain, network))
	}
	return c.Next()
}

func (s *Server) operations(c *fiber.Ctx, ros []RosettaOperation) (ops Operations, signers []string, ok bool, rsp error) {
	ops, err := OperationsFromRosetta(ros)
	if err == nil {
		err = ops.Validate()
	}
	if err == nil {
		signers, err = requiredSigners(s.config.Network, ops)
	}
	if err != nil {
		return nil, nil, false, s.errorResponse(c, CodeInvalidRequest, "Invalid operations", err)
	}
	return ops, signers, true, nil
}

func (s *Server) postPreprocess(c *fiber.Ctx) error {
	in := &rpcclient.PreprocessIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	_, signers, ok, rsp := s.operations(c, in.Operations)
	if !ok {
		return rsp
	}

	size, err := sizeHint(s.config.Network, in.Operations, signers)
	if err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid operations", err)
	}

	relativeTTL := int64(1000)
	if in.Metadata != nil && in.Metadata.RelativeTTL > 0 {
		relativeTTL = in.Metadata.RelativeTTL
	}

	required := make([]AccountIdentifier, 0, len(signers))
	for _, signer := range signers {
		required = append(required, AccountIdentifier{Address: signer})
	}

	return c.JSON(&rpcclient.PreprocessOut{
		Options: map[string]any{
			"relative_ttl":     relativeTTL,
			"transaction_size": size,
		},
		RequiredPublicKeys: required,
	})
}

func (s *Server) postMetadata(c *fiber.Ctx) error {
	body := c.Body()
	size := gjson.GetBytes(body, "options.transaction_size")
	if !size.Exists() {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid options", errors.New("missing transaction_size"))
	}

	s.mu.Lock()
	ttl := s.ledger.tip.Index + gjson.GetBytes(body, "options.relative_ttl").Int()
	s.mu.Unlock()

	params := s.config.Params
	return c.JSON(&rpcclient.MetadataOut{
		Metadata: map[string]any{
			"ttl": strconv.FormatInt(ttl, 10),
			"protocol_parameters": map[string]any{
				"minFeeA":          params.MinFeeA,
				"minFeeB":          params.MinFeeB,
				"maxTxSize":        params.MaxTxSize,
				"coinsPerUtxoByte": strconv.FormatUint(params.CoinsPerUtxoByte, 10),
				"keyDeposit":       strconv.FormatUint(params.KeyDeposit, 10),
				"poolDeposit":      strconv.FormatUint(params.PoolDeposit, 10),
			},
		},
		SuggestedFee: []Amount{{
			Value:    strconv.FormatUint(s.fee(size.Uint()), 10),
			Currency: AdaCurrency,
		}},
	})
}

func (s *Server) postPayloads(c *fiber.Ctx) error {
	in := &rpcclient.PayloadsIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	_, signers, ok, rsp := s.operations(c, in.Operations)
	if !ok {
		return rsp
	}

	ttl := gjson.GetBytes(c.Body(), "metadata.ttl").Uint()
	body, err := encodeUnsigned(s.config.Network, ttl, in.Operations, signers)
	if err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid operations", err)
	}

	message := hex.EncodeToString(bodyHash(body))
	payloads := make([]SigningPayload, 0, len(signers))
	for _, signer := range signers {
		payloads = append(payloads, SigningPayload{
			AccountIdentifier: &AccountIdentifier{Address: signer},
			HexBytes:          message,
			SignatureType:     SignatureEd25519,
		})
	}

	return c.JSON(&rpcclient.PayloadsOut{
		UnsignedTransaction: hex.EncodeToString(body),
		Payloads:            payloads,
	})
}

func (s *Server) postParse(c *fiber.Ctx) error {
	in := &rpcclient.ParseIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	unsigned := in.Transaction
	var witnesses []witness
	if in.Signed {
		signed, err := decodeSignedHex(in.Transaction)
		if err != nil {
			return s.errorResponse(c, CodeInvalidTransaction, "Cannot parse transaction", err)
		}
		unsigned = hex.EncodeToString(signed.Body)
		witnesses = signed.Witnesses
	}

	_, tx, ops, err := decodeUnsignedHex(unsigned)
	if err != nil {
		return s.errorResponse(c, CodeInvalidTransaction, "Cannot parse transaction", err)
	}

	out := &rpcclient.ParseOut{Operations: ops}
	for _, signer := range tx.Signers {
		for _, w := range witnesses {
			if owns(s.config.Network, w.PublicKey, signer) {
				out.AccountIdentifierSigners = append(out.AccountIdentifierSigners, AccountIdentifier{Address: signer})
				break
			}
		}
	}

	return c.JSON(out)
}

func (s *Server) postCombine(c *fiber.Ctx) error {
	in := &rpcclient.CombineIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	body, _, _, err := decodeUnsignedHex(in.UnsignedTransaction)
	if err != nil {
		return s.errorResponse(c, CodeInvalidTransaction, "Cannot parse transaction", err)
	}

	message := hex.EncodeToString(bodyHash(body))
	witnesses := make([]witness, 0, len(in.Signatures))
	for i, sig := range in.Signatures {
		if sig.SigningPayload.HexBytes != message {
			return s.errorResponse(c, CodeInvalidSignature, "Invalid signature", errors.Errorf("signature %d covers another payload", i))
		}
		pub, err := hex.DecodeString(sig.PublicKey.HexBytes)
		if err != nil {
			return s.errorResponse(c, CodeInvalidSignature, "Invalid public key", err)
		}
		signature, err := hex.DecodeString(sig.HexBytes)
		if err != nil {
			return s.errorResponse(c, CodeInvalidSignature, "Invalid signature", err)
		}
		witnesses = append(witnesses, witness{PublicKey: pub, Signature: signature})
	}

	if err = verifyWitnesses(s.config.Network, body, nil, witnesses); err != nil {
		return s.errorResponse(c, CodeInvalidSignature, "Invalid signature", err)
	}

	signed, err := encodeSigned(body, witnesses)
	if err != nil {
		return s.errorResponse(c, CodeInvalidTransaction, "Cannot combine transaction", err)
	}

	return c.JSON(&rpcclient.CombineOut{SignedTransaction: signed})
}

func (s *Server) postHash(c *fiber.Ctx) error {
	in := &rpcclient.SignedTransactionIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	signed, err := decodeSignedHex(in.SignedTransaction)
	if err != nil {
		return s.errorResponse(c, CodeInvalidTransaction, "Cannot parse transaction", err)
	}

	return c.JSON(&rpcclient.TransactionIdentifierOut{
		TransactionIdentifier: TransactionIdentifier{Hash: hex.EncodeToString(bodyHash(signed.Body))},
	})
}

func (s *Server) postSubmit(c *fiber.Ctx) error {
	in := &rpcclient.SignedTransactionIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	signed, err := decodeSignedHex(in.SignedTransaction)
	if err != nil {
		return s.errorResponse(c, CodeInvalidTransaction, "Cannot parse transaction", err)
	}

	tx, ros, err := decodeUnsigned(signed.Body)
	if err != nil {
		return s.errorResponse(c, CodeInvalidTransaction, "Cannot parse transaction", err)
	}
	if tx.Network != string(s.config.Network) {
		return s.errorResponse(c, CodeSubmitRejected, "Transaction submission rejected", errors.Errorf("transaction built for %s", tx.Network))
	}

	ops, signers, ok, rsp := s.operations(c, ros)
	if !ok {
		return rsp
	}

	if err = verifyWitnesses(s.config.Network, signed.Body, signers, signed.Witnesses); err != nil {
		return s.errorResponse(c, CodeSubmitRejected, "Transaction submission rejected", err)
	}

	size, err := sizeHint(s.config.Network, ros, signers)
	if err != nil {
		return s.errorResponse(c, CodeInvalidTransaction, "Cannot size transaction", err)
	}

	hash := hex.EncodeToString(bodyHash(signed.Body))

	s.mu.Lock()
	err = s.ledger.apply(hash, ops, s.fee(size), size, s.now().Add(s.config.ConfirmAfter))
	s.mu.Unlock()

	if err != nil {
		return s.errorResponse(c, CodeSubmitRejected, "Transaction submission rejected", err)
	}

	log.Debug().Msgf("rosettatest: accepted %s (%d operations)", hash, len(ops))

	return c.JSON(&rpcclient.TransactionIdentifierOut{
		TransactionIdentifier: TransactionIdentifier{Hash: hash},
	})
}

func (s *Server) blockTransaction(tx *ledgerTx) rpcclient.BlockTransaction {
	return rpcclient.BlockTransaction{
		BlockIdentifier: tx.Block,
		Transaction: Transaction{
			TransactionIdentifier: TransactionIdentifier{Hash: tx.Hash},
			Operations:            tx.Operations,
			Metadata:              map[string]any{"size": tx.Size},
		},
	}
}

func (s *Server) postSearchTransactions(c *fiber.Ctx) error {
	hash := gjson.GetBytes(c.Body(), "transaction_identifier.hash").String()

	out := &rpcclient.SearchTransactionsOut{Transactions: []rpcclient.BlockTransaction{}}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if hash != "" {
		if tx := s.ledger.visible(hash, now); tx != nil {
			out.Transactions = append(out.Transactions, s.blockTransaction(tx))
		}
	} else {
		for h := range s.ledger.txs {
			if tx := s.ledger.visible(h, now); tx != nil {
				out.Transactions = append(out.Transactions, s.blockTransaction(tx))
			}
		}
	}
	out.TotalCount = int64(len(out.Transactions))

	return c.JSON(out)
}

func (s *Server) postBlockTransaction(c *fiber.Ctx) error {
	in := &rpcclient.BlockTransactionIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := in.TransactionIdentifier.Hash
	tx := s.ledger.visible(hash, s.now())
	if tx == nil || tx.Block.Index != in.BlockIdentifier.Index {
		return s.errorResponse(c, CodeTransactionMissing, "Transaction not found", fmt.Errorf("%s in block %d", hash, in.BlockIdentifier.Index))
	}

	return c.JSON(&rpcclient.BlockTransactionOut{Transaction: s.blockTransaction(tx).Transaction})
}

func (s *Server) postAccountCoins(c *fiber.Ctx) error {
	in := &rpcclient.AccountCoinsIn{}
	if err := c.BodyParser(in); err != nil {
		return s.errorResponse(c, CodeInvalidRequest, "Invalid request", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := &rpcclient.AccountCoinsOut{
		BlockIdentifier: s.ledger.tip,
		Coins:           []rpcclient.Coin{},
	}

	for _, u := range s.ledger.utxosFor(in.AccountIdentifier.Address) {
		coin := rpcclient.Coin{
			CoinIdentifier: CoinIdentifier{Identifier: u.ID()},
			Amount:         Amount{Value: strconv.FormatUint(u.Lovelace, 10), Currency: AdaCurrency},
		}
		if len(u.Assets) > 0 {
			coin.Metadata = map[string][]TokenBundle{u.ID(): u.Assets}
		}
		out.Coins = append(out.Coins, coin)
	}

	return c.JSON(out)
}
