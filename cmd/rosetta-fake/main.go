package main

import (
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cardano-rosetta-go/rosettatest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type _config struct {
	HostPort     string
	Network      string
	LogLevel     string
	FixedFee     uint64
	ConfirmAfter time.Duration
	Fund         string
}

func (c *_config) Load() (err error) {
	flag.StringVar(&c.HostPort, "hostport", "localhost:8080", "Set host:port for the http listener")
	flag.StringVar(&c.Network, "network", string(NetworkPreProd), "Set network (mainnet|preprod|preview|privnet)")
	flag.StringVar(&c.LogLevel, "loglevel", "", "Set the log level (trace|debug|info|warn|error|fatal) Can also be set via the ROSETTA_FAKE_LOG_LEVEL environment variable")
	flag.Uint64Var(&c.FixedFee, "fixedfee", 0, "Suggest this fee in lovelace instead of the linear estimate")
	flag.DurationVar(&c.ConfirmAfter, "confirmafter", 2*time.Second, "Delay before submitted transactions appear in a block")
	flag.StringVar(&c.Fund, "fund", "", "Comma separated address=lovelace pairs to seed the ledger with")
	flag.Parse()

	return Network(c.Network).Validate()
}

func (c *_config) funding() (funding map[string][]uint64, err error) {
	funding = make(map[string][]uint64)
	if c.Fund == "" {
		return
	}

	for _, pair := range strings.Split(c.Fund, ",") {
		address, amount, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			err = errors.Errorf("invalid fund entry '%s', expected address=lovelace", pair)
			return
		}
		if err = ValidateAddress(address); err != nil {
			return
		}
		lovelace, err2 := strconv.ParseUint(amount, 10, 64)
		if err2 != nil {
			err = errors.Wrapf(err2, "invalid fund amount '%s'", amount)
			return
		}
		funding[address] = append(funding[address], lovelace)
	}

	return
}

var log = Log()

func main() {
	config := &_config{}

	if err := config.Load(); err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	if config.LogLevel == "" {
		envLogLevel := os.Getenv("ROSETTA_FAKE_LOG_LEVEL")
		if envLogLevel != "" {
			config.LogLevel = envLogLevel
		} else {
			config.LogLevel = "info"
		}
	}
	logLevel, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		log.Fatal().Msgf("%+v", errors.WithStack(err))
	}

	log.Info().Msgf("setting log level to: '%s'", logLevel)
	zerolog.SetGlobalLevel(logLevel)

	funding, err := config.funding()
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	server := rosettatest.New(rosettatest.Config{
		Network:      Network(config.Network),
		FixedFee:     config.FixedFee,
		ConfirmAfter: config.ConfirmAfter,
	})

	for address, amounts := range funding {
		for _, u := range server.Fund(address, amounts...) {
			log.Info().Msgf("funded %s with %s ADA (%s)", address, FormatAda(int64(u.Lovelace)), u.ID())
		}
	}

	if err = server.Start(config.HostPort); err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info().Msg("caught interrupt/terminate signal, attempting graceful shutdown...")

	if err = server.Stop(); err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	log.Info().Msg("graceful shutdown complete")
}
