package cardano

const (
	MinUtxoLovelace    uint64 = 1_000_000
	DefaultKeyDeposit  uint64 = 2_000_000
	DefaultPoolDeposit uint64 = 500_000_000
)

// DepositParameters are the amounts locked by registration certificates and
// released by their inverse.
type DepositParameters struct {
	KeyDeposit  uint64 `json:"keyDeposit,string"`
	PoolDeposit uint64 `json:"poolDeposit,string"`
}

var DefaultDepositParameters = DepositParameters{
	KeyDeposit:  DefaultKeyDeposit,
	PoolDeposit: DefaultPoolDeposit,
}

// ProtocolParameters is the subset of the shelley genesis parameters the
// fee estimate depends on.
type ProtocolParameters struct {
	MinFeeA          uint64 `json:"minFeeA"`
	MinFeeB          uint64 `json:"minFeeB"`
	MaxTxSize        uint64 `json:"maxTxSize"`
	CoinsPerUtxoByte uint64 `json:"coinsPerUtxoByte"`
	KeyDeposit       uint64 `json:"keyDeposit"`
	PoolDeposit      uint64 `json:"poolDeposit"`
}

var DefaultProtocolParameters = ProtocolParameters{
	MinFeeA:          44,
	MinFeeB:          155381,
	MaxTxSize:        16384,
	CoinsPerUtxoByte: 4310,
	KeyDeposit:       DefaultKeyDeposit,
	PoolDeposit:      DefaultPoolDeposit,
}

// LinearFee is minFeeA * size + minFeeB.
func (p ProtocolParameters) LinearFee(size uint64) uint64 {
	return p.MinFeeA*size + p.MinFeeB
}

func (p ProtocolParameters) Deposits() DepositParameters {
	return DepositParameters{KeyDeposit: p.KeyDeposit, PoolDeposit: p.PoolDeposit}
}
