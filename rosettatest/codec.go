package rosettatest

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cbor/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// The fake ledger's transactions are opaque cbor blobs. They are not
// cardano transactions, only stable enough to hash, size and sign.

type unsignedTx struct {
	_          struct{} `cbor:",toarray"`
	Network    string
	TTL        uint64
	Operations []byte
	Signers    []string
}

type witness struct {
	_         struct{} `cbor:",toarray"`
	PublicKey []byte
	Signature []byte
}

type signedTx struct {
	_         struct{} `cbor:",toarray"`
	Body      []byte
	Witnesses []witness
}

const (
	witnessSize  = 101
	amountWidth  = 20
	sizingTTL    = 1 << 32
	blockHashLen = 32
)

func encodeUnsigned(network Network, ttl uint64, ops []RosettaOperation, signers []string) (body []byte, err error) {
	opsJson, err := json.Marshal(ops)
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	body, err = cbor.Marshal(unsignedTx{
		Network:    string(network),
		TTL:        ttl,
		Operations: opsJson,
		Signers:    signers,
	})
	err = errors.WithStack(err)
	return
}

func decodeUnsigned(body []byte) (tx *unsignedTx, ops []RosettaOperation, err error) {
	tx = &unsignedTx{}
	if err = cbor.Unmarshal(body, tx); err != nil {
		err = errors.Wrapf(ErrValidation, "unsigned transaction: %v", err)
		return
	}
	if err = json.Unmarshal(tx.Operations, &ops); err != nil {
		err = errors.Wrapf(ErrValidation, "unsigned transaction operations: %v", err)
	}
	return
}

func decodeUnsignedHex(unsigned string) (body []byte, tx *unsignedTx, ops []RosettaOperation, err error) {
	body, err = hex.DecodeString(unsigned)
	if err != nil {
		err = errors.Wrapf(ErrValidation, "unsigned transaction is not hex: %v", err)
		return
	}
	tx, ops, err = decodeUnsigned(body)
	return
}

func encodeSigned(body []byte, witnesses []witness) (string, error) {
	b, err := cbor.Marshal(signedTx{Body: body, Witnesses: witnesses})
	if err != nil {
		return "", errors.WithStack(err)
	}
	return hex.EncodeToString(b), nil
}

func decodeSignedHex(signed string) (tx *signedTx, err error) {
	b, err := hex.DecodeString(signed)
	if err != nil {
		err = errors.Wrapf(ErrValidation, "signed transaction is not hex: %v", err)
		return
	}
	tx = &signedTx{}
	if err = cbor.Unmarshal(b, tx); err != nil {
		err = errors.Wrapf(ErrValidation, "signed transaction: %v", err)
	}
	return
}

func bodyHash(body []byte) []byte {
	sum := blake2b.Sum256(body)
	return sum[:]
}

// sizeHint estimates the signed size without depending on amounts or ttl, so
// reconciling a fee never changes the fee.
func sizeHint(network Network, ops []RosettaOperation, signers []string) (size uint64, err error) {
	canonical := make([]RosettaOperation, len(ops))
	for i, op := range ops {
		if op.Amount != nil {
			amount := *op.Amount
			amount.Value = strings.Repeat("9", amountWidth)
			op.Amount = &amount
		}
		canonical[i] = op
	}

	body, err := encodeUnsigned(network, sizingTTL, canonical, signers)
	if err != nil {
		return
	}

	size = uint64(len(body)) + uint64(len(signers))*witnessSize
	return
}
