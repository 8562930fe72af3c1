/*
Package cardano drives transaction construction against a Cardano Rosetta
Construction API, with the intention of turning a declarative list of ledger
operations into a signed, submitted and confirmed transaction.

The package holds the typed operation model and its builders, UTXO selection
with run-scoped leases, key routing for signatures and a small submission
journal. The protocol driver itself lives in the construction package and the
HTTP client in rpcclient.
*/

package cardano
