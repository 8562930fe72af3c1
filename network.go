package cardano

import "github.com/pkg/errors"

func init() {
	MainNetParams.Name = NetworkMainNet
	MainNetParams.Magic = NetworkMagicMainNet
	MainNetParams.AddressPrefix = "addr"
	MainNetParams.DelegationPrefix = "stake"
	MainNetParams.HeaderNetwork = AddressHeaderNetworkMainnet

	PreProdParams.Name = NetworkPreProd
	PreProdParams.Magic = NetworkMagicPreProd
	PreProdParams.AddressPrefix = "addr_test"
	PreProdParams.DelegationPrefix = "stake_test"
	PreProdParams.HeaderNetwork = AddressHeaderNetworkTestnet

	PreviewParams.Name = NetworkPreview
	PreviewParams.Magic = NetworkMagicPreview
	PreviewParams.AddressPrefix = "addr_test"
	PreviewParams.DelegationPrefix = "stake_test"
	PreviewParams.HeaderNetwork = AddressHeaderNetworkTestnet

	PrivateNetParams.Name = NetworkPrivateNet
	PrivateNetParams.Magic = NetworkMagicPrivateNet
	PrivateNetParams.AddressPrefix = "addr_test"
	PrivateNetParams.DelegationPrefix = "stake_test"
	PrivateNetParams.HeaderNetwork = AddressHeaderNetworkTestnet
}

type NetworkParams struct {
	Name             Network
	Magic            NetworkMagic
	AddressPrefix    string
	DelegationPrefix string
	HeaderNetwork    AddressHeaderNetwork
}

var MainNetParams = NetworkParams{}
var PreProdParams = NetworkParams{}
var PreviewParams = NetworkParams{}
var PrivateNetParams = NetworkParams{}

const (
	NetworkMainNet    Network = "mainnet"
	NetworkPreProd    Network = "preprod"
	NetworkPreview    Network = "preview"
	NetworkPrivateNet Network = "privnet"
)

// RosettaBlockchain is the blockchain name every network identifier carries.
const RosettaBlockchain = "cardano"

type Network string

func (n Network) Valid() bool {
	return n == NetworkMainNet || n == NetworkPreProd || n == NetworkPreview || n == NetworkPrivateNet
}

func (n Network) Validate() (err error) {
	if !n.Valid() {
		err = errors.Errorf("invalid network: '%s'", n)
	}
	return
}

func (n Network) Params() (params *NetworkParams, err error) {
	if err = n.Validate(); err != nil {
		return
	}

	switch n {
	case NetworkMainNet:
		return &MainNetParams, nil
	case NetworkPreProd:
		return &PreProdParams, nil
	case NetworkPreview:
		return &PreviewParams, nil
	case NetworkPrivateNet:
		return &PrivateNetParams, nil
	}

	return
}

type NetworkMagic uint64

const (
	NetworkMagicMainNet    NetworkMagic = 764824073
	NetworkMagicPreProd    NetworkMagic = 1
	NetworkMagicPreview    NetworkMagic = 2
	NetworkMagicPrivateNet NetworkMagic = 42
)
