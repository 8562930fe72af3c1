package cardano

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

type SignerRole int

const (
	RolePayment SignerRole = iota
	RoleStake
	RolePool
)

func (r SignerRole) String() string {
	switch r {
	case RolePayment:
		return "payment"
	case RoleStake:
		return "stake"
	case RolePool:
		return "pool"
	default:
		return "unknown"
	}
}

// SigningHandler routes each payload to a key by comparing the payload's
// account with the wallet's addresses. Payload order is never consulted.
type SigningHandler struct {
	paymentAddress string
	stakeAddress   string
	poolKeyHash    string
	keys           map[SignerRole]*SigningKey
}

func NewSigningHandler(wallet *KeyWallet) *SigningHandler {
	h := &SigningHandler{
		paymentAddress: wallet.Address(),
		stakeAddress:   wallet.StakeAddress(),
		keys: map[SignerRole]*SigningKey{
			RolePayment: wallet.PaymentKey(),
			RoleStake:   wallet.StakeKey(),
		},
	}

	if pool := wallet.PoolKey(); pool != nil {
		h.poolKeyHash = wallet.PoolKeyHash()
		h.keys[RolePool] = pool
	}

	return h
}

// Resolve maps a payload account to the role of the key that must sign it.
func (h *SigningHandler) Resolve(payload SigningPayload) (role SignerRole, err error) {
	account := payload.Account()

	switch {
	case account == "":
		err = errors.Wrap(ErrNoSigningKey, "payload has no account")
	case SameAddress(account, h.stakeAddress):
		role = RoleStake
	case SameAddress(account, h.paymentAddress):
		role = RolePayment
	case h.poolKeyHash != "" && account == h.poolKeyHash:
		role = RolePool
	default:
		err = errors.Wrapf(ErrNoSigningKey, "account '%s' matches no wallet key", account)
	}

	return
}

func (h *SigningHandler) Sign(payload SigningPayload) (signature Signature, err error) {
	role, err := h.Resolve(payload)
	if err != nil {
		return
	}

	message, err := hex.DecodeString(payload.HexBytes)
	if err != nil {
		err = errors.Wrapf(ErrValidation, "payload bytes are not hex: %v", err)
		return
	}

	key := h.keys[role]

	log.Debug().Msgf("signing payload for %s with %s key", payload.Account(), role)

	signature = Signature{
		SigningPayload: payload,
		PublicKey: PublicKey{
			HexBytes:  key.PublicKeyHex(),
			CurveType: CurveEdwards25519,
		},
		SignatureType: SignatureEd25519,
		HexBytes:      hex.EncodeToString(key.Sign(message)),
	}
	return
}

// SignFunc adapts the handler to the pluggable signer signature.
func (h *SigningHandler) SignFunc() SignFunc {
	return h.Sign
}
