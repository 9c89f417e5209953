package main

import (
	"os"

	log "github.com/ChainSafe/log15"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/ethrpc"
	"github.com/iov-one/custos/flow"
	"github.com/iov-one/custos/metatx"
	"github.com/iov-one/custos/registry"
	"github.com/iov-one/custos/safe"
	"github.com/iov-one/custos/txstore"
)

// rootOptions holds the global flags shared by all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool

	cfg    Config
	logger log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "custosctl",
		Short:         "Administer a custody contract",
		Long:          "custosctl drives the administrative workflow of a custody contract:\ntime locked operations, off path signed transactions and the import of\nexternally queued multisig transactions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			handler := log.LvlFilterHandler(log.LvlInfo, log.StderrHandler)
			if opts.Verbose {
				handler = log.LvlFilterHandler(log.LvlDebug, log.StderrHandler)
			}
			opts.logger = log.New()
			opts.logger.SetHandler(handler)

			cfg, err := LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "custos.yaml", "path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newOpsCmd(opts))
	cmd.AddCommand(newMetaCmd(opts))
	cmd.AddCommand(newSafeCmd(opts))

	return cmd
}

// env is the wired subsystem set behind a single configuration.
type env struct {
	cfg    Config
	logger log.Logger

	ledger *ethrpc.Ledger
	key    *ethrpc.Key
	reg    *registry.Registry
	ctrl   *flow.Controller
	relay  *metatx.Relay
	store  *txstore.Store

	closers []func()
}

// dial connects every subsystem the commands need. The registry is
// fetched from the live contract so unknown operation types fail fast.
func dial(ctx custos.Context, opts *rootOptions) (*env, error) {
	e := &env{cfg: opts.cfg, logger: opts.logger}

	ledger, err := ethrpc.Dial(ctx, opts.cfg.RPC, opts.logger)
	if err != nil {
		return nil, err
	}
	e.ledger = ledger
	e.closers = append(e.closers, ledger.Close)

	key, err := ethrpc.LoadKeyFile(opts.cfg.KeyFile)
	if err != nil {
		e.close()
		return nil, err
	}
	e.key = key

	custodian := opts.cfg.CustodianAddress()
	reg, err := registry.Load(ctx, ledger, custodian, opts.logger)
	if err != nil {
		e.close()
		return nil, err
	}
	e.reg = reg

	backend, err := openBackend(opts.cfg, e)
	if err != nil {
		e.close()
		return nil, err
	}
	e.store = txstore.NewStore(backend, opts.logger)

	e.ctrl = flow.NewController(ledger, reg, custodian, opts.logger)
	e.relay = metatx.NewRelay(ledger, reg, e.store, custodian, opts.logger)
	return e, nil
}

func openBackend(cfg Config, e *env) (txstore.Backend, error) {
	if cfg.StoreDriver == "leveldb" {
		backend, err := txstore.OpenLevel(cfg.Store)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = backend.Close() })
		return backend, nil
	}
	return txstore.NewFileBackend(cfg.Store), nil
}

// aggregator wires the optional multisig bridge. It fails when the
// configuration has no safe section.
func (e *env) aggregator() (*safe.Aggregator, error) {
	if e.cfg.Safe.Service == "" {
		return nil, errors.Wrap(errors.ErrInput, "no safe section in the configuration")
	}
	client := safe.NewClient(e.cfg.Safe.Service, nil, e.logger)
	return safe.NewAggregator(client, e.ctrl, e.relay, e.reg,
		common.HexToAddress(e.cfg.Safe.Address), e.cfg.SafeOwners(), e.logger), nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
