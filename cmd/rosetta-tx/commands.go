package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cardano-rosetta-go/construction"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJson(v any) error {
	j, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Println(string(j))
	return nil
}

type selectFlags struct {
	strategy string
	count    int
	fixedFee bool
}

func (f *selectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", string(StrategySingle), "Utxo selection strategy (single|multiple)")
	cmd.Flags().IntVar(&f.count, "count", 1, "Number of utxos for the multiple strategy")
	cmd.Flags().BoolVar(&f.fixedFee, "fixed-fee", false, "Keep the estimated fee instead of the suggested one")
}

// run executes an intent against the configured API and prints the result.
func (f *selectFlags) run(intent construction.Intent) (err error) {
	wallet, err := loadWallet()
	if err != nil {
		return
	}

	s, err := openSession()
	if err != nil {
		return
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	intent.Wallet = wallet
	intent.EstimatedFee = config.EstimatedFee
	intent.FixedFee = f.fixedFee
	intent.Timeout = config.Timeout
	intent.Select = SelectRequest{
		Strategy: SelectionStrategy(f.strategy),
		Count:    f.count,
	}

	result, err := s.orchestrator.Execute(ctx, intent)
	if result != nil && result.TxHash != "" {
		log.Info().Msgf("transaction hash: %s", result.TxHash)
	}
	if err != nil {
		return
	}

	return printJson(map[string]any{
		"run":        result.RunID,
		"txHash":     result.TxHash,
		"block":      result.Details.Block,
		"fee":        FormatAda(int64(result.Fee)),
		"onchainFee": FormatAda(int64(result.OnchainFee)),
		"networkFee": FormatAda(result.NetworkFee),
		"selection":  result.Selection.Tier.String(),
	})
}

func newKeygenCmd() *cobra.Command {
	var outDir string
	var pool bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate payment and stake signing keys",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err = os.MkdirAll(outDir, 0o700); err != nil {
				return errors.WithStack(err)
			}

			files := []struct {
				name         string
				envelopeType string
				description  string
			}{
				{"payment.skey", EnvelopePaymentSigningKey, "Payment Signing Key"},
				{"stake.skey", EnvelopeStakeSigningKey, "Stake Signing Key"},
			}
			if pool {
				files = append(files, struct {
					name         string
					envelopeType string
					description  string
				}{"pool.skey", EnvelopeStakePoolSigningKey, "Stake Pool Operator Signing Key"})
			}

			for _, f := range files {
				path := filepath.Join(outDir, f.name)
				if _, err2 := os.Stat(path); err2 == nil {
					return errors.Errorf("refusing to overwrite %s", path)
				}

				key, err2 := GenerateSigningKey()
				if err2 != nil {
					return err2
				}
				if err = SaveSigningKeyFile(path, key, f.envelopeType, f.description); err != nil {
					return
				}
				log.Info().Msgf("wrote %s", path)
			}

			return
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for the key files")
	cmd.Flags().BoolVar(&pool, "pool", false, "Also generate a pool cold key")
	return cmd
}

func newAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the wallet's base and stake addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := loadWallet()
			if err != nil {
				return err
			}

			out := map[string]string{
				"address":      wallet.Address(),
				"stakeAddress": wallet.StakeAddress(),
			}
			if hash := wallet.PoolKeyHash(); hash != "" {
				out["poolKeyHash"] = hash
			}
			return printJson(out)
		},
	}
}

func newDecodeAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode-address <address>",
		Short: "Decode a bech32 address against every known network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := strings.Trim(args[0], " \"")

			decoded := make([]map[string]string, 0)
			for _, net := range []Network{
				NetworkMainNet,
				NetworkPreProd,
				NetworkPreview,
				NetworkPrivateNet,
			} {
				addr, err := DecodeAddress(address, net)
				if err != nil {
					log.Debug().Msgf("%s: %v", net, err)
					continue
				}

				header, err := addr.Header()
				if err != nil {
					return err
				}
				typ, err := addr.Type()
				if err != nil {
					return err
				}

				decoded = append(decoded, map[string]string{
					"network": string(net),
					"header":  header.String(),
					"type":    typ.String(),
					"bytes":   addr.String(),
				})
			}

			if len(decoded) == 0 {
				return errors.Wrapf(ErrInvalidAddress, "'%s' does not decode on any network", address)
			}
			return printJson(decoded)
		},
	}
}

func newUtxosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "utxos [address]",
		Short: "List an address' unspent outputs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var address string
			if len(args) == 1 {
				address = args[0]
			} else {
				wallet, err2 := loadWallet()
				if err2 != nil {
					return err2
				}
				address = wallet.Address()
			}

			s, err := openSession()
			if err != nil {
				return
			}
			defer s.Close()

			ctx, cancel := signalContext()
			defer cancel()

			utxos, err := s.client.GetUtxosForAddress(ctx, address)
			if err != nil {
				return
			}

			for _, u := range utxos {
				fmt.Printf("%s  %s ADA\n", u.ID(), FormatAda(int64(u.Lovelace)))
			}
			fmt.Printf("total: %s ADA in %d utxos\n", FormatAda(int64(SumLovelace(utxos))), len(utxos))
			return
		},
	}
}

func newSendCmd() *cobra.Command {
	flags := &selectFlags{}
	var sweep bool

	cmd := &cobra.Command{
		Use:   "send <address> <ada>",
		Short: "Send ADA, returning change to the wallet",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err = ValidateAddress(args[0]); err != nil {
				return
			}

			var amount int64
			switch {
			case sweep:
			case len(args) == 2:
				if amount, err = ParseAda(args[1]); err != nil {
					return
				}
				if amount <= 0 {
					return errors.Wrap(ErrValidation, "amount must be positive")
				}
			default:
				return errors.Wrap(ErrValidation, "an amount or --sweep is required")
			}

			return flags.run(construction.Intent{
				Kind:        construction.IntentTransfer,
				Destination: args[0],
				Amount:      uint64(amount),
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Send the whole selection to the destination")
	return cmd
}

func newRegisterCmd() *cobra.Command {
	flags := &selectFlags{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the wallet's stake key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(construction.Intent{Kind: construction.IntentStakeKeyRegistration})
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeregisterCmd() *cobra.Command {
	flags := &selectFlags{}
	cmd := &cobra.Command{
		Use:   "deregister",
		Short: "Deregister the wallet's stake key and reclaim the deposit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(construction.Intent{Kind: construction.IntentStakeKeyDeregistration})
		},
	}
	flags.register(cmd)
	return cmd
}

func newDelegateCmd() *cobra.Command {
	flags := &selectFlags{}
	var register bool

	cmd := &cobra.Command{
		Use:   "delegate <pool key hash>",
		Short: "Delegate the wallet's stake to a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(construction.Intent{
				Kind:        construction.IntentStakeDelegation,
				PoolKeyHash: args[0],
				Register:    register,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&register, "register", false, "Register the stake key in the same transaction")
	return cmd
}

func newVoteDelegateCmd() *cobra.Command {
	flags := &selectFlags{}
	var register bool

	cmd := &cobra.Command{
		Use:   "vote-delegate <key_hash|script_hash|abstain|no_confidence> [drep id]",
		Short: "Delegate the wallet's voting power to a DRep",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			drep := DRep{Type: DRepType(args[0])}
			if len(args) == 2 {
				drep.ID = args[1]
			}
			return flags.run(construction.Intent{
				Kind:     construction.IntentDRepVoteDelegation,
				DRep:     drep,
				Register: register,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&register, "register", false, "Register the stake key in the same transaction")
	return cmd
}

func newPoolRetireCmd() *cobra.Command {
	flags := &selectFlags{}

	cmd := &cobra.Command{
		Use:   "pool-retire <epoch>",
		Short: "Retire the wallet's pool at an epoch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(ErrValidation, "epoch '%s': %v", args[0], err)
			}

			wallet, err := loadWallet()
			if err != nil {
				return err
			}
			if wallet.PoolKey() == nil {
				return errors.Wrap(ErrNoSigningKey, "--pool-key is required to retire a pool")
			}

			return flags.run(construction.Intent{
				Kind:        construction.IntentPoolRetirement,
				PoolKeyHash: wallet.PoolKeyHash(),
				Epoch:       epoch,
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled runs",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if config.JournalPath == "" {
				return errors.Wrap(ErrValidation, "--journal is required")
			}

			journal, err := NewSqliteJournal(config.JournalPath)
			if err != nil {
				return
			}
			defer journal.Close()

			records, err := journal.ListRecords(limit)
			if err != nil {
				return
			}

			return printJson(records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	return cmd
}
