package cardano

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Utxo is an unspent output as listed by the remote data API. It is never
// cached across orchestration calls.
type Utxo struct {
	TxHash   string        `json:"txHash"`
	Index    uint32        `json:"index"`
	Owner    string        `json:"address"`
	Lovelace uint64        `json:"amount"`
	Assets   []TokenBundle `json:"assets,omitempty"`
}

func (u Utxo) ID() string {
	return fmt.Sprintf("%s:%d", u.TxHash, u.Index)
}

func (u Utxo) AdaOnly() bool {
	return len(u.Assets) == 0
}

func ParseCoinIdentifier(id string) (txHash string, index uint32, err error) {
	hash, idx, found := strings.Cut(id, ":")
	if !found || hash == "" {
		err = errors.Wrapf(ErrValidation, "invalid coin identifier '%s'", id)
		return
	}
	parsed, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		err = errors.Wrapf(ErrValidation, "invalid coin identifier index '%s'", id)
		return
	}
	return hash, uint32(parsed), nil
}

const TxHashLength = 64

// ValidateTxHash checks for a 64 character lowercase hex transaction hash.
func ValidateTxHash(hash string) error {
	if len(hash) != TxHashLength {
		return errors.Wrapf(ErrValidation, "transaction hash '%s' is not %d characters", hash, TxHashLength)
	}
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return errors.Wrapf(ErrValidation, "transaction hash '%s' is not lowercase hex", hash)
		}
	}
	return nil
}

// UtxoSource lists the current unspent outputs of an address.
type UtxoSource interface {
	GetUtxosForAddress(ctx context.Context, address string) ([]Utxo, error)
}

func SumLovelace(utxos []Utxo) (total uint64) {
	for _, u := range utxos {
		total += u.Lovelace
	}
	return
}
