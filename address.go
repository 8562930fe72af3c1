package cardano

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"hash/crc32"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/fxamacker/cbor/v2"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const KeyHashSize = 28

type Address []byte

func (a Address) String() string {
	return hex.EncodeToString(a)
}

func (a Address) Header() (header AddressHeader, err error) {
	if len(a) == 0 {
		err = errors.Wrap(ErrInvalidAddress, "cannot get header for empty address")
		return
	}
	header = AddressHeader(a[0])
	return
}

func (a Address) Type() (typ AddressType, err error) {
	header, err := a.Header()
	if err != nil {
		return
	}
	return header.Type()
}

// Bech32String picks the delegation prefix for reward addresses and the
// address prefix for everything else.
func (a Address) Bech32String(network Network) (encoded string, err error) {
	params, err := network.Params()
	if err != nil {
		return
	}

	typ, err := a.Type()
	if err != nil {
		return
	}

	prefix := params.AddressPrefix
	if typ == AddressTypeStakeReward || typ == AddressTypeScriptReward {
		prefix = params.DelegationPrefix
	}

	encoded, err = bech32.ConvertAndEncode(prefix, a)
	if err != nil {
		err = errors.Wrapf(ErrInvalidAddress, "failed to convert to bech32: %+v", err)
		return
	}

	return
}

func (a *Address) ParseBech32String(encoded string, network Network) (err error) {
	prefix, addr, err := bech32.DecodeAndConvert(encoded)
	if err != nil {
		return errors.Wrapf(ErrInvalidAddress, "failed to decode bech32 address: %+v", err)
	}

	if len(addr) == 0 {
		return errors.Wrap(ErrInvalidAddress, "empty bech32 payload")
	}

	header := AddressHeader(addr[0])
	if err = header.Validate(); err != nil {
		return
	}

	params, err := network.Params()
	if err != nil {
		return
	}

	if prefix != params.AddressPrefix && prefix != params.DelegationPrefix {
		return errors.Wrapf(
			ErrInvalidAddress,
			"invalid prefix: expected '%s' or '%s', got '%s'",
			params.AddressPrefix,
			params.DelegationPrefix,
			prefix,
		)
	}

	if header.Network() != params.HeaderNetwork {
		return errors.Wrapf(ErrInvalidAddress, "address header network %s does not match %s", header.Network(), network)
	}

	*a = addr
	return nil
}

// DecodeAddress accepts a Bech32 address string for the given network.
func DecodeAddress(address string, network Network) (decoded Address, err error) {
	addr := &Address{}
	err = addr.ParseBech32String(address, network)
	decoded = *addr
	return
}

var bech32Prefixes = []string{"addr", "addr_test", "stake", "stake_test"}

// ValidateAddress accepts shelley bech32 addresses and legacy byron base58
// addresses of any network.
func ValidateAddress(address string) error {
	if address == "" {
		return errors.Wrap(ErrInvalidAddress, "empty address")
	}

	if prefix, data, err := bech32.DecodeAndConvert(address); err == nil {
		for _, p := range bech32Prefixes {
			if p == prefix && len(data) > 0 {
				return AddressHeader(data[0]).Validate()
			}
		}
		return errors.Wrapf(ErrInvalidAddress, "unexpected bech32 prefix '%s'", prefix)
	}

	if decoded, err := base58.Decode(address); err == nil {
		return validateByronAddress(decoded)
	}

	return errors.Wrapf(ErrInvalidAddress, "'%s' is neither bech32 nor byron base58", address)
}

func IsByronAddress(address string) bool {
	decoded, err := base58.Decode(address)
	return err == nil && validateByronAddress(decoded) == nil
}

type byronAddress struct {
	_        struct{} `cbor:",toarray"`
	Payload  cbor.RawTag
	Checksum uint32
}

// validateByronAddress checks the [tag 24 payload, crc32] envelope and that
// the payload is a [root, attributes, type] triple. The network magic sits
// in the attributes, so mainnet and testnet addresses are both accepted.
func validateByronAddress(raw []byte) error {
	var addr byronAddress
	if err := StandardCborDecoder.Unmarshal(raw, &addr); err != nil {
		return errors.Wrapf(ErrInvalidAddress, "byron envelope: %v", err)
	}
	if addr.Payload.Number != 24 {
		return errors.Wrapf(ErrInvalidAddress, "byron payload tag %d", addr.Payload.Number)
	}

	var payload []byte
	if err := StandardCborDecoder.Unmarshal(addr.Payload.Content, &payload); err != nil {
		return errors.Wrapf(ErrInvalidAddress, "byron payload: %v", err)
	}
	if crc32.ChecksumIEEE(payload) != addr.Checksum {
		return errors.Wrap(ErrInvalidAddress, "byron checksum mismatch")
	}

	var fields []cbor.RawMessage
	if err := StandardCborDecoder.Unmarshal(payload, &fields); err != nil || len(fields) != 3 {
		return errors.Wrap(ErrInvalidAddress, "byron payload is not a [root, attributes, type] triple")
	}

	var root []byte
	if err := StandardCborDecoder.Unmarshal(fields[0], &root); err != nil || len(root) != KeyHashSize {
		return errors.Wrap(ErrInvalidAddress, "byron address root")
	}
	return nil
}

// EncodeAddress accepts an Ed25519 public key and returns a single
// credential address: an enterprise payment address or a reward address.
func EncodeAddress(publicKey []byte, net Network, typ AddressType) (addr Address, err error) {
	if typ != AddressTypePayment && typ != AddressTypeStakeReward {
		err = errors.Wrapf(ErrInvalidAddress, "address type '%s' needs more than one credential", typ)
		return
	}

	hash, err := KeyHash(publicKey)
	if err != nil {
		return
	}

	return buildAddress(net, typ, hash)
}

// EncodeBaseAddress returns the payment-and-stake address of a key pair.
func EncodeBaseAddress(paymentKey, stakeKey []byte, net Network) (addr Address, err error) {
	paymentHash, err := KeyHash(paymentKey)
	if err != nil {
		return
	}

	stakeHash, err := KeyHash(stakeKey)
	if err != nil {
		return
	}

	return buildAddress(net, AddressTypePaymentAndStake, paymentHash, stakeHash)
}

func buildAddress(net Network, typ AddressType, hashes ...[]byte) (addr Address, err error) {
	params, err := net.Params()
	if err != nil {
		return
	}

	format, err := typ.Format()
	if err != nil {
		return
	}

	header := new(AddressHeader)
	header.SetType(format.HeaderType)
	header.SetNetwork(params.HeaderNetwork)

	addr = Address{byte(*header)}
	for _, h := range hashes {
		addr = append(addr, h...)
	}

	return
}

// StakeAddressFromKey renders the bech32 reward address for a stake
// verification key given as hex.
func StakeAddressFromKey(stakeKeyHex string, net Network) (address string, err error) {
	key, err := hex.DecodeString(stakeKeyHex)
	if err != nil {
		err = errors.Wrapf(ErrInvalidKey, "stake key is not hex: %v", err)
		return
	}

	addr, err := EncodeAddress(key, net, AddressTypeStakeReward)
	if err != nil {
		return
	}

	return addr.Bech32String(net)
}

func KeyHash(publicKey []byte) (hash []byte, err error) {
	if len(publicKey) != ed25519.PublicKeySize {
		err = errors.Wrapf(
			ErrInvalidKey,
			"expected a %d length ed25519 public key, got %d bytes",
			ed25519.PublicKeySize,
			len(publicKey))
		return
	}
	return Blake2bSum224(publicKey)
}

func Blake2bSum224(data []byte) (hash []byte, err error) {
	hash = make([]byte, KeyHashSize)
	h, err := blake2b.New(KeyHashSize, nil)
	if err != nil {
		err = errors.Wrap(err, "failed to create blake2b hash")
		return
	}
	h.Write(data)
	h.Sum(hash[:0])
	return hash, nil
}

const (
	AddressTypePaymentAndStake AddressType = iota
	AddressTypeScriptAndStake
	AddressTypePaymentAndScript
	AddressTypeScriptAndScript
	AddressTypePaymentAndPointer
	AddressTypeScriptAndPointer
	AddressTypePayment
	AddressTypeScript
	AddressTypeStakeReward
	AddressTypeScriptReward
)

type AddressType int

var addressTypeNames = map[AddressType]string{
	AddressTypePaymentAndStake:   "payment and stake",
	AddressTypeScriptAndStake:    "script and stake",
	AddressTypePaymentAndScript:  "payment and script",
	AddressTypeScriptAndScript:   "script and script",
	AddressTypePaymentAndPointer: "payment and pointer",
	AddressTypeScriptAndPointer:  "script and pointer",
	AddressTypePayment:           "payment",
	AddressTypeScript:            "script",
	AddressTypeStakeReward:       "stake reward",
	AddressTypeScriptReward:      "script reward",
}

func (a AddressType) String() string {
	if name, ok := addressTypeNames[a]; ok {
		return name
	}
	return "invalid"
}

func (a AddressType) Format() (format AddressFormat, err error) {
	if t, ok := AddressTypeMap[a]; ok {
		return t, nil
	}
	err = errors.Wrapf(ErrInvalidAddress, "invalid address type '%d'", a)
	return
}

type AddressFormat struct {
	Type       AddressType
	HeaderType AddressHeaderType
}

var AddressTypeMap = map[AddressType]AddressFormat{
	AddressTypePaymentAndStake:   {AddressTypePaymentAndStake, AddressHeaderTypeStakePaymentKeyHash},
	AddressTypeScriptAndStake:    {AddressTypeScriptAndStake, AddressHeaderTypeStakeScriptHash},
	AddressTypePaymentAndScript:  {AddressTypePaymentAndScript, AddressHeaderTypeScriptPaymentKeyHash},
	AddressTypeScriptAndScript:   {AddressTypeScriptAndScript, AddressHeaderTypeScriptScriptHash},
	AddressTypePaymentAndPointer: {AddressTypePaymentAndPointer, AddressHeaderTypePointerPaymentKeyHash},
	AddressTypeScriptAndPointer:  {AddressTypeScriptAndPointer, AddressHeaderTypePointerScriptHash},
	AddressTypePayment:           {AddressTypePayment, AddressHeaderTypePaymentKeyHash},
	AddressTypeScript:            {AddressTypeScript, AddressHeaderTypeScriptHash},
	AddressTypeStakeReward:       {AddressTypeStakeReward, AddressHeaderTypeStakeRewardHash},
	AddressTypeScriptReward:      {AddressTypeScriptReward, AddressHeaderTypeScriptRewardHash},
}

// Header types occupy the high nibble of the first address byte, the
// network id the low nibble.
const (
	AddressHeaderTypeStakePaymentKeyHash   AddressHeaderType = 0b0000
	AddressHeaderTypeStakeScriptHash       AddressHeaderType = 0b0001
	AddressHeaderTypeScriptPaymentKeyHash  AddressHeaderType = 0b0010
	AddressHeaderTypeScriptScriptHash      AddressHeaderType = 0b0011
	AddressHeaderTypePointerPaymentKeyHash AddressHeaderType = 0b0100
	AddressHeaderTypePointerScriptHash     AddressHeaderType = 0b0101
	AddressHeaderTypePaymentKeyHash        AddressHeaderType = 0b0110
	AddressHeaderTypeScriptHash            AddressHeaderType = 0b0111
	AddressHeaderTypeStakeRewardHash       AddressHeaderType = 0b1110
	AddressHeaderTypeScriptRewardHash      AddressHeaderType = 0b1111

	AddressHeaderNetworkTestnet AddressHeaderNetwork = 0b0000
	AddressHeaderNetworkMainnet AddressHeaderNetwork = 0b0001
)

type (
	AddressHeader        byte
	AddressHeaderType    byte
	AddressHeaderNetwork byte
)

func (a AddressHeaderNetwork) String() string {
	switch a {
	case AddressHeaderNetworkTestnet:
		return "testnet"
	case AddressHeaderNetworkMainnet:
		return "mainnet"
	default:
		return "unknown"
	}
}

func (a AddressHeader) String() string {
	typ, err := a.Type()
	if err != nil {
		return fmt.Sprintf("%08b (invalid)", byte(a))
	}
	return fmt.Sprintf("%s/%s | 0x%x | %08b", typ, a.Network(), byte(a), byte(a))
}

func (a AddressHeader) Network() AddressHeaderNetwork {
	return AddressHeaderNetwork(a & 0x0f)
}

func (a AddressHeader) Validate() (err error) {
	switch a.Network() {
	case AddressHeaderNetworkMainnet, AddressHeaderNetworkTestnet:
	default:
		return errors.Wrapf(ErrInvalidAddress, "invalid network bits in address header: %08b", byte(a))
	}
	_, err = a.Type()
	return
}

func (a AddressHeader) Valid() bool {
	return a.Validate() == nil
}

func (a AddressHeader) Type() (typ AddressType, err error) {
	headerType := AddressHeaderType(a >> 4)
	for _, t := range AddressTypeMap {
		if t.HeaderType == headerType {
			return t.Type, nil
		}
	}
	err = errors.Wrapf(ErrInvalidAddress, "invalid type bits in address header: %08b", byte(a))
	return
}

func (a *AddressHeader) SetType(headerType AddressHeaderType) {
	*a = AddressHeader(byte(headerType)<<4 | byte(*a)&0x0f)
}

func (a *AddressHeader) SetNetwork(network AddressHeaderNetwork) {
	*a = AddressHeader(byte(*a)&0xf0 | byte(network)&0x0f)
}

// SameAddress compares two addresses by decoded bytes when both are bech32,
// falling back to string equality.
func SameAddress(a, b string) bool {
	if a == b {
		return true
	}
	_, da, errA := bech32.DecodeAndConvert(a)
	_, db, errB := bech32.DecodeAndConvert(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}
