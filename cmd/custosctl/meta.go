package main

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/metatx"
	"github.com/iov-one/custos/registry"
)

// metaOptions holds flags for the meta subcommands.
type metaOptions struct {
	*rootOptions
	Phase       string
	TxID        uint64
	Target      string
	Value       string
	Payload     string
	Deadline    time.Duration
	MaxGasPrice string
}

func newMetaCmd(rootOpts *rootOptions) *cobra.Command {
	opts := &metaOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Sign and broadcast off path authorizations",
	}

	sign := &cobra.Command{
		Use:   "sign <operation>",
		Short: "Sign an authorization and keep it in the local store",
		Long: "Sign builds a deadline bound authorization with the configured\n" +
			"key and stores it locally. Nothing touches the ledger until a\n" +
			"broadcaster runs \"meta broadcast\" with the printed key.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()

			opType, err := e.reg.ResolveByName(args[0])
			if err != nil {
				return err
			}
			signOpts, err := parseSignOptions(cmd.Context(), opts)
			if err != nil {
				return err
			}

			var key string
			switch opts.Phase {
			case "approve":
				key, _, err = e.relay.Sign(cmd.Context(), opType.ID, registry.PhaseMetaApprove, opts.TxID, signOpts, e.key)
			case "cancel":
				key, _, err = e.relay.Sign(cmd.Context(), opType.ID, registry.PhaseMetaCancel, opts.TxID, signOpts, e.key)
			case "single":
				callOpts := &opsOptions{rootOptions: opts.rootOptions, Target: opts.Target, Value: opts.Value, Payload: opts.Payload}
				target, value, payload, perr := parseCallArgs(callOpts)
				if perr != nil {
					return perr
				}
				key, _, err = e.relay.SignSinglePhase(cmd.Context(), opType.ID, target, value, payload, signOpts, e.key)
			default:
				return errors.Wrapf(errors.ErrInput, "phase must be approve, cancel or single, got %q", opts.Phase)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	sign.Flags().StringVar(&opts.Phase, "phase", "approve", "authorization kind: approve, cancel or single")
	sign.Flags().Uint64Var(&opts.TxID, "tx-id", 0, "record id, required for approve and cancel")
	sign.Flags().StringVar(&opts.Target, "target", "", "target address, single phase only")
	sign.Flags().StringVar(&opts.Value, "value", "0", "value in wei, single phase only")
	sign.Flags().StringVar(&opts.Payload, "payload", "", "0x prefixed hex payload, single phase only")
	sign.Flags().DurationVar(&opts.Deadline, "deadline", time.Hour, "how long the authorization stays valid")
	sign.Flags().StringVar(&opts.MaxGasPrice, "max-gas-price", "", "highest acceptable gas price in wei")
	_ = sign.MarkFlagRequired("max-gas-price")

	broadcast := &cobra.Command{
		Use:   "broadcast <key>",
		Short: "Submit a stored authorization to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()

			receipt, err := e.relay.Broadcast(cmd.Context(), args[0], e.key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tx=%s block=%d gasUsed=%d ok=%t\n",
				receipt.TxHash.Hex(), receipt.BlockNumber, receipt.GasUsed, receipt.OK)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List authorizations stored for the custodian",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()

			stored, err := e.store.List(e.cfg.CustodianAddress())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(stored))
			for key := range stored {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				tx := stored[key]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tsigned=%s\tkind=%s\toperation=%s\n",
					key, tx.CreatedAt, tx.Metadata["kind"], tx.Metadata["operation"])
			}
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Drop every stored authorization for the custodian",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()
			return e.store.Clear(e.cfg.CustodianAddress())
		},
	}

	cmd.AddCommand(sign, broadcast, list, clear)
	return cmd
}

func parseSignOptions(ctx custos.Context, opts *metaOptions) (metatx.SignOptions, error) {
	maxGasPrice, ok := new(big.Int).SetString(opts.MaxGasPrice, 10)
	if !ok {
		return metatx.SignOptions{}, errors.Wrapf(errors.ErrInput, "max gas price %q is not a decimal number", opts.MaxGasPrice)
	}
	deadline := custos.AsUnixTime(custos.Now(ctx).Add(opts.Deadline))
	return metatx.SignOptions{Deadline: deadline, MaxGasPrice: maxGasPrice}, nil
}
