package cardano

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// Wallet is the key holder the construction flow consumes. Key derivation
// happens elsewhere; only addresses and verification keys are needed here.
type Wallet interface {
	Address() string
	StakeAddress() string
	PaymentVerificationKeyHex() string
	StakeVerificationKeyHex() string
}

// KeyWallet is a Wallet backed by in-memory signing keys. The pool key is
// optional and only needed for pool lifecycle and governance operations.
type KeyWallet struct {
	network      Network
	payment      *SigningKey
	stake        *SigningKey
	pool         *SigningKey
	address      string
	stakeAddress string
}

var _ Wallet = &KeyWallet{}

func NewKeyWallet(network Network, payment, stake *SigningKey) (wallet *KeyWallet, err error) {
	if payment == nil || stake == nil {
		err = errors.Wrap(ErrInvalidKey, "wallet needs both a payment and a stake key")
		return
	}

	base, err := EncodeBaseAddress(payment.PublicKey(), stake.PublicKey(), network)
	if err != nil {
		return
	}

	address, err := base.Bech32String(network)
	if err != nil {
		return
	}

	stakeAddress, err := StakeAddressFromKey(stake.PublicKeyHex(), network)
	if err != nil {
		return
	}

	wallet = &KeyWallet{
		network:      network,
		payment:      payment,
		stake:        stake,
		address:      address,
		stakeAddress: stakeAddress,
	}
	return
}

func LoadKeyWallet(network Network, paymentKeyPath, stakeKeyPath string) (wallet *KeyWallet, err error) {
	payment, err := LoadSigningKeyFile(paymentKeyPath)
	if err != nil {
		return
	}

	stake, err := LoadSigningKeyFile(stakeKeyPath)
	if err != nil {
		return
	}

	return NewKeyWallet(network, payment, stake)
}

func (w *KeyWallet) WithPoolKey(pool *SigningKey) *KeyWallet {
	w.pool = pool
	return w
}

func (w *KeyWallet) Network() Network { return w.network }

func (w *KeyWallet) Address() string { return w.address }

func (w *KeyWallet) StakeAddress() string { return w.stakeAddress }

func (w *KeyWallet) PaymentVerificationKeyHex() string { return w.payment.PublicKeyHex() }

func (w *KeyWallet) StakeVerificationKeyHex() string { return w.stake.PublicKeyHex() }

func (w *KeyWallet) PaymentKey() *SigningKey { return w.payment }

func (w *KeyWallet) StakeKey() *SigningKey { return w.stake }

func (w *KeyWallet) PoolKey() *SigningKey { return w.pool }

// PoolKeyHash is the hex blake2b-224 of the pool cold key, empty when the
// wallet holds no pool key.
func (w *KeyWallet) PoolKeyHash() string {
	if w.pool == nil {
		return ""
	}
	hash, err := KeyHash(w.pool.PublicKey())
	if err != nil {
		return ""
	}
	return hex.EncodeToString(hash)
}
