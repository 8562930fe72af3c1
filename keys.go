package cardano

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"os"

	"filippo.io/edwards25519"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	ExtendedKeySize = 64

	EnvelopePaymentSigningKey         = "PaymentSigningKeyShelley_ed25519"
	EnvelopeStakeSigningKey           = "StakeSigningKeyShelley_ed25519"
	EnvelopePaymentExtendedSigningKey = "PaymentExtendedSigningKeyShelley_ed25519_bip32"
	EnvelopeStakeExtendedSigningKey   = "StakeExtendedSigningKeyShelley_ed25519_bip32"
	EnvelopeStakePoolSigningKey       = "StakePoolSigningKey_ed25519"
)

// SigningKey is an Ed25519 key held in extended form (kL || kR). Plain
// 32 byte seeds are expanded the same way ed25519 does, so signatures from
// seed keys are byte-identical to crypto/ed25519.
type SigningKey struct {
	seed     []byte
	extended []byte
	scalar   *edwards25519.Scalar
	public   ed25519.PublicKey
}

// NewSigningKey accepts a 32 byte seed, a 64 byte extended key, or the
// longer cardano-cli bip32 encodings whose first 64 bytes are the extended
// key.
func NewSigningKey(raw []byte) (key *SigningKey, err error) {
	var extended, seed []byte

	switch {
	case len(raw) == ed25519.SeedSize:
		seed = append([]byte{}, raw...)
		h := sha512.Sum512(raw)
		h[0] &= 248
		h[31] &= 127
		h[31] |= 64
		extended = h[:]
	case len(raw) >= ExtendedKeySize:
		extended = append([]byte{}, raw[:ExtendedKeySize]...)
	default:
		err = errors.Wrapf(ErrInvalidKey, "unsupported key length %d", len(raw))
		return
	}

	wide := make([]byte, 64)
	copy(wide, extended[:32])
	scalar, err := edwards25519.NewScalar().SetUniformBytes(wide)
	if err != nil {
		err = errors.Wrap(ErrInvalidKey, err.Error())
		return
	}

	public := new(edwards25519.Point).ScalarBaseMult(scalar).Bytes()

	key = &SigningKey{
		seed:     seed,
		extended: extended,
		scalar:   scalar,
		public:   public,
	}
	return
}

func GenerateSigningKey() (key *SigningKey, err error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err = rand.Read(seed); err != nil {
		err = errors.WithStack(err)
		return
	}
	return NewSigningKey(seed)
}

func (k *SigningKey) PublicKey() ed25519.PublicKey {
	return k.public
}

func (k *SigningKey) PublicKeyHex() string {
	return hex.EncodeToString(k.public)
}

// Sign follows RFC 8032 using kR as the nonce prefix.
func (k *SigningKey) Sign(message []byte) []byte {
	nonce := sha512.New()
	nonce.Write(k.extended[32:])
	nonce.Write(message)
	r, _ := edwards25519.NewScalar().SetUniformBytes(nonce.Sum(nil))

	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	challenge := sha512.New()
	challenge.Write(R)
	challenge.Write(k.public)
	challenge.Write(message)
	c, _ := edwards25519.NewScalar().SetUniformBytes(challenge.Sum(nil))

	s := edwards25519.NewScalar().MultiplyAdd(c, k.scalar, r)

	return append(R, s.Bytes()...)
}

// TextEnvelope is the cardano-cli key file format.
type TextEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

func ParseSigningKeyEnvelope(data []byte) (key *SigningKey, envelopeType string, err error) {
	if !gjson.ValidBytes(data) {
		err = errors.Wrap(ErrInvalidKey, "key file is not json")
		return
	}

	parsed := gjson.ParseBytes(data)
	envelopeType = parsed.Get("type").String()

	cborBytes, err := hex.DecodeString(parsed.Get("cborHex").String())
	if err != nil {
		err = errors.Wrapf(ErrInvalidKey, "cborHex is not hex: %v", err)
		return
	}

	var raw []byte
	if err = StandardCborDecoder.Unmarshal(cborBytes, &raw); err != nil {
		err = errors.Wrapf(ErrInvalidKey, "cborHex is not a cbor byte string: %v", err)
		return
	}

	key, err = NewSigningKey(raw)
	return
}

func LoadSigningKeyFile(path string) (key *SigningKey, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.Wrapf(err, "unable to read key file %s", path)
		return
	}

	key, _, err = ParseSigningKeyEnvelope(data)
	err = errors.Wrapf(err, "key file %s", path)
	return
}

func (k *SigningKey) Extended() bool {
	return k.seed == nil
}

// Envelope encodes the key as a cardano-cli text envelope, as a seed when
// the key was created from one.
func (k *SigningKey) Envelope(envelopeType, description string) (envelope TextEnvelope, err error) {
	raw := k.seed
	if raw == nil {
		raw = k.extended
	}

	cborBytes, err := cbor.Marshal(raw)
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	envelope = TextEnvelope{
		Type:        envelopeType,
		Description: description,
		CborHex:     hex.EncodeToString(cborBytes),
	}
	return
}

func SaveSigningKeyFile(path string, key *SigningKey, envelopeType, description string) (err error) {
	envelope, err := key.Envelope(envelopeType, description)
	if err != nil {
		return
	}

	j, err := json.MarshalIndent(envelope, "", "    ")
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.Wrapf(os.WriteFile(path, j, 0o600), "unable to write key file %s", path)
}
