package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cardano-rosetta-go/construction"
	"github.com/alexdcox/cardano-rosetta-go/rpcclient"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type _config struct {
	ConfigFile   string        `mapstructure:"config"`
	RosettaUrl   string        `mapstructure:"rosetta-url"`
	Network      string        `mapstructure:"network"`
	PaymentKey   string        `mapstructure:"payment-key"`
	StakeKey     string        `mapstructure:"stake-key"`
	PoolKey      string        `mapstructure:"pool-key"`
	JournalPath  string        `mapstructure:"journal"`
	LogLevel     string        `mapstructure:"log-level"`
	LogFile      string        `mapstructure:"log-file"`
	EstimatedFee uint64        `mapstructure:"estimated-fee"`
	Timeout      time.Duration `mapstructure:"timeout"`
	HttpTimeout  time.Duration `mapstructure:"http-timeout"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	Progress     bool          `mapstructure:"progress"`
}

func (c *_config) Load(cmd *cobra.Command) (err error) {
	viper.SetEnvPrefix("ROSETTA_TX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err = viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.WithStack(err)
	}

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err = viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	if err = viper.Unmarshal(c); err != nil {
		return errors.Wrap(err, "failed to unmarshal config")
	}

	if err = Network(c.Network).Validate(); err != nil {
		return
	}

	return ConfigureLogging(LogOptions{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 3,
	})
}

var log = Log()

var config = &_config{}

// session is what every command that talks to the API needs.
type session struct {
	client       *rpcclient.RpcClient
	orchestrator *construction.Orchestrator
	journal      Journal
	events       *construction.Events
	closeJournal func() error
}

func openSession() (s *session, err error) {
	client, err := rpcclient.NewRpcClient(config.RosettaUrl, Network(config.Network))
	if err != nil {
		return
	}
	if config.HttpTimeout > 0 {
		client.SetTimeout(config.HttpTimeout)
	}

	s = &session{client: client, closeJournal: func() error { return nil }}

	if config.JournalPath != "" {
		journal, err2 := NewSqliteJournal(config.JournalPath)
		if err2 != nil {
			return nil, err2
		}
		s.journal = journal
		s.closeJournal = journal.Close
	} else {
		s.journal = NewInMemoryJournal()
	}

	if config.Progress {
		s.events = construction.NewEvents()
		s.events.On(func(event construction.StateEvent) {
			if event.Err != nil {
				fmt.Fprintf(os.Stderr, "%s  %-16s -> %s: %v\n", event.At.Format(time.TimeOnly), event.From, event.To, event.Err)
				return
			}
			fmt.Fprintf(os.Stderr, "%s  %-16s -> %s\n", event.At.Format(time.TimeOnly), event.From, event.To)
		})
	}

	s.orchestrator = construction.NewOrchestrator(client, client, construction.Options{
		PollInterval: config.PollInterval,
		Journal:      s.journal,
		Events:       s.events,
	})

	return
}

func (s *session) Close() {
	if s.events != nil {
		s.events.Close()
	}
	if err := s.closeJournal(); err != nil {
		log.Warn().Msgf("%+v", err)
	}
}

func loadWallet() (wallet *KeyWallet, err error) {
	if config.PaymentKey == "" || config.StakeKey == "" {
		err = errors.Wrap(ErrInvalidKey, "--payment-key and --stake-key are required")
		return
	}

	wallet, err = LoadKeyWallet(Network(config.Network), config.PaymentKey, config.StakeKey)
	if err != nil {
		return
	}

	if config.PoolKey != "" {
		pool, err2 := LoadSigningKeyFile(config.PoolKey)
		if err2 != nil {
			return nil, err2
		}
		wallet.WithPoolKey(pool)
	}

	return
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "rosetta-tx",
		Short:         "Build, sign and submit cardano transactions through a rosetta API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a config file (json, yaml or toml)")
	flags.String("rosetta-url", "http://localhost:8080", "Rosetta API base url")
	flags.String("network", string(NetworkPreProd), "Set network (mainnet|preprod|preview|privnet)")
	flags.String("payment-key", "", "Path to the payment signing key envelope")
	flags.String("stake-key", "", "Path to the stake signing key envelope")
	flags.String("pool-key", "", "Path to the pool cold signing key envelope")
	flags.String("journal", "", "Path to the sqlite submission journal (in-memory when empty)")
	flags.String("log-level", "info", "Set the log level (trace|debug|info|warn|error|fatal)")
	flags.String("log-file", "", "Also write logs to this rotating file")
	flags.Uint64("estimated-fee", 200_000, "Fee reserved while building operations, in lovelace")
	flags.Duration("timeout", construction.DefaultTimeout, "How long to wait for confirmation")
	flags.Duration("http-timeout", rpcclient.DefaultTimeout, "Timeout for a single rosetta API request")
	flags.Duration("poll-interval", construction.DefaultPollInterval, "Confirmation poll interval")
	flags.Bool("progress", false, "Print state transitions to stderr")

	rootCmd.AddCommand(
		newKeygenCmd(),
		newAddressCmd(),
		newDecodeAddressCmd(),
		newUtxosCmd(),
		newSendCmd(),
		newRegisterCmd(),
		newDeregisterCmd(),
		newDelegateCmd(),
		newVoteDelegateCmd(),
		newPoolRetireCmd(),
		newHistoryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Msgf("%+v", err)
		os.Exit(1)
	}
}
