package cardano

// TransactionDetails is a confirmed transaction as interpreted by the
// remote indexer. Operations keep the on-chain order.
type TransactionDetails struct {
	TxHash     string          `json:"txHash"`
	Block      BlockIdentifier `json:"block"`
	Operations Operations      `json:"-"`
	Size       int64           `json:"size,omitempty"`
}

// CalculateOnchainFee is the sum of absolute input amounts minus the sum of
// output amounts over the confirmed operations. Deposits are not removed.
func CalculateOnchainFee(details *TransactionDetails) uint64 {
	if details == nil {
		return 0
	}
	in := details.Operations.InputTotal()
	out := details.Operations.OutputTotal()
	if out > in {
		return 0
	}
	return in - out
}

// CalculateNetworkFee recovers the ledger fee by also accounting for
// certificate deposits, refunds and reward withdrawals.
func CalculateNetworkFee(details *TransactionDetails, deposits DepositParameters) int64 {
	if details == nil {
		return 0
	}
	return details.Operations.ImpliedFee(deposits)
}

// Conserved reports whether inputs equal outputs plus fee plus net deposit.
func Conserved(ops Operations, fee uint64, deposits DepositParameters) bool {
	return ops.ImpliedFee(deposits) == int64(fee)
}
