package main

import (
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/metatx"
	"github.com/iov-one/custos/safe"
)

// safeOptions holds flags for the safe subcommands.
type safeOptions struct {
	*rootOptions
	Single      bool
	Broadcast   bool
	Deadline    time.Duration
	MaxGasPrice string
}

func newSafeCmd(rootOpts *rootOptions) *cobra.Command {
	opts := &safeOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "safe",
		Short: "Bridge queued multisig transactions into the workflow",
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List queued multisig transactions and their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()
			agg, err := e.aggregator()
			if err != nil {
				return err
			}

			txs, err := agg.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			for _, tx := range txs {
				state := "queued"
				if tracking, ok := agg.Tracking(tx.Nonce); ok {
					switch {
					case tracking.Broadcast:
						state = "broadcast"
					case tracking.SignedKey != "":
						state = "signed"
					case tracking.RequestedTxID != 0:
						state = fmt.Sprintf("requested record %d", tracking.RequestedTxID)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "nonce=%d\tto=%s\tconfirmations=%d/%d\t%s\n",
					tx.Nonce, tx.To.Hex(), tx.Confirmed(), tx.ConfirmationsRequired, state)
			}
			return nil
		},
	}

	adopt := &cobra.Command{
		Use:   "adopt <nonce>",
		Short: "Pull a queued multisig transaction into the workflow",
		Long: "Adopt converts the queued transaction with the given nonce into\n" +
			"a custodian operation. The default path requests a time locked\n" +
			"record; --single signs a single phase authorization instead and\n" +
			"--broadcast submits it right away.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := parseTxID(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrInput, "nonce must be a decimal number")
			}
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()
			agg, err := e.aggregator()
			if err != nil {
				return err
			}

			tx, err := findPending(cmd.Context(), agg, nonce)
			if err != nil {
				return err
			}
			if !opts.Single {
				rec, err := agg.Request(cmd.Context(), tx, e.key)
				if err != nil {
					return err
				}
				printRecord(cmd.OutOrStdout(), e, rec)
				return nil
			}

			signOpts, err := parseSafeSignOptions(cmd.Context(), opts)
			if err != nil {
				return err
			}
			key, _, err := agg.SignSinglePhase(cmd.Context(), tx, signOpts, e.key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			if !opts.Broadcast {
				return nil
			}
			receipt, err := agg.Broadcast(cmd.Context(), tx, e.key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tx=%s block=%d gasUsed=%d ok=%t\n",
				receipt.TxHash.Hex(), receipt.BlockNumber, receipt.GasUsed, receipt.OK)
			return nil
		},
	}
	adopt.Flags().BoolVar(&opts.Single, "single", false, "sign a single phase authorization instead of requesting")
	adopt.Flags().BoolVar(&opts.Broadcast, "broadcast", false, "broadcast the single phase authorization immediately")
	adopt.Flags().DurationVar(&opts.Deadline, "deadline", time.Hour, "how long the authorization stays valid, single phase only")
	adopt.Flags().StringVar(&opts.MaxGasPrice, "max-gas-price", "", "highest acceptable gas price in wei, single phase only")

	cmd.AddCommand(pending, adopt)
	return cmd
}

func findPending(ctx custos.Context, agg *safe.Aggregator, nonce uint64) (safe.PendingTx, error) {
	txs, err := agg.ListPending(ctx)
	if err != nil {
		return safe.PendingTx{}, err
	}
	for _, tx := range txs {
		if tx.Nonce == nonce {
			return tx, nil
		}
	}
	return safe.PendingTx{}, errors.Wrapf(errors.ErrNotFound, "no queued transaction with nonce %d", nonce)
}

func parseSafeSignOptions(ctx custos.Context, opts *safeOptions) (metatx.SignOptions, error) {
	if opts.MaxGasPrice == "" {
		return metatx.SignOptions{}, errors.Wrap(errors.ErrInput, "--max-gas-price is required with --single")
	}
	maxGasPrice, ok := new(big.Int).SetString(opts.MaxGasPrice, 10)
	if !ok {
		return metatx.SignOptions{}, errors.Wrapf(errors.ErrInput, "max gas price %q is not a decimal number", opts.MaxGasPrice)
	}
	deadline := custos.AsUnixTime(custos.Now(ctx).Add(opts.Deadline))
	return metatx.SignOptions{Deadline: deadline, MaxGasPrice: maxGasPrice}, nil
}
