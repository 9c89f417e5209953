package main

import (
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/iov-one/custos/errors"
	"github.com/iov-one/custos/flow"
)

// opsOptions holds flags for the ops subcommands.
type opsOptions struct {
	*rootOptions
	Target  string
	Value   string
	Payload string
}

func newOpsCmd(rootOpts *rootOptions) *cobra.Command {
	opts := &opsOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Drive the time locked operation workflow",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all operation records of the custodian",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()

			records, err := e.ctrl.Operations(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range records {
				printRecord(cmd.OutOrStdout(), e, rec)
			}
			return nil
		},
	}

	request := &cobra.Command{
		Use:   "request <operation>",
		Short: "Request an operation, starting its time lock",
		Long: "Request starts the two phase workflow for the named operation\n" +
			"type. The record becomes approvable once the custodian's lock\n" +
			"period has elapsed.",
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
			target, value, payload, err := parseCallArgs(opts)
			if err != nil {
				return err
			}
			rec, err := e.ctrl.Request(cmd.Context(), opType.ID, target, value, payload, e.key)
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), e, rec)
			return nil
		},
	}
	request.Flags().StringVar(&opts.Target, "target", "", "target address of the operation")
	request.Flags().StringVar(&opts.Value, "value", "0", "value in wei")
	request.Flags().StringVar(&opts.Payload, "payload", "", "0x prefixed hex payload")

	approve := &cobra.Command{
		Use:   "approve <tx-id>",
		Short: "Approve a record whose time lock has elapsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.ctrl.Approve(cmd.Context(), txID, e.key)
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), e, rec)
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <tx-id>",
		Short: "Cancel a pending record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			e, err := dial(cmd.Context(), opts.rootOptions)
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.ctrl.Cancel(cmd.Context(), txID, e.key)
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), e, rec)
			return nil
		},
	}

	cmd.AddCommand(list, request, approve, cancel)
	return cmd
}

func parseTxID(raw string) (uint64, error) {
	txID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInput, "record id %q", raw)
	}
	return txID, nil
}

func parseCallArgs(opts *opsOptions) (common.Address, *big.Int, []byte, error) {
	if !common.IsHexAddress(opts.Target) {
		return common.Address{}, nil, nil, errors.Wrapf(errors.ErrInput, "target %q is not an address", opts.Target)
	}
	value, ok := new(big.Int).SetString(opts.Value, 10)
	if !ok {
		return common.Address{}, nil, nil, errors.Wrapf(errors.ErrInput, "value %q is not a decimal number", opts.Value)
	}
	var payload []byte
	if opts.Payload != "" {
		var err error
		payload, err = hexutil.Decode(opts.Payload)
		if err != nil {
			return common.Address{}, nil, nil, errors.Wrap(errors.ErrInput, "payload must be 0x prefixed hex")
		}
	}
	return common.HexToAddress(opts.Target), value, payload, nil
}

func printRecord(w io.Writer, e *env, rec *flow.Record) {
	name := hexutil.Encode(rec.Type.Bytes())
	if opType, err := e.reg.Resolve(rec.Type); err == nil {
		name = opType.Name
	}
	fmt.Fprintf(w, "%d\t%s\t%s\ttarget=%s value=%s created=%s release=%s\n",
		rec.TxID, name, rec.Status,
		rec.Target.Hex(), rec.Value, rec.CreatedAt, rec.ReleaseTime)
}
