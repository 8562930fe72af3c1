package cardano

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

var StandardCborDecoder, _ = cbor.DecOptions{
	UTF8: cbor.UTF8DecodeInvalid,
}.DecMode()

const LovelacePerAda = 6

// FormatAda renders a lovelace amount as a fixed six decimal ADA string.
func FormatAda(lovelace int64) string {
	return decimal.New(lovelace, -LovelacePerAda).StringFixed(LovelacePerAda)
}

// ParseAda converts a decimal ADA string into lovelace, truncating anything
// beyond six decimal places.
func ParseAda(ada string) (lovelace int64, err error) {
	d, err := decimal.NewFromString(ada)
	if err != nil {
		return
	}
	return d.Shift(LovelacePerAda).IntPart(), nil
}
