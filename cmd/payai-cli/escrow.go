package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"payai/core/types"
	"payai/crypto"
	"payai/rpc"
)

// submit derives the account list for typ through the node, signs the
// instruction with --key and submits it. The receipt is printed.
func (c *cli) submit(ctx context.Context, typ types.InstructionType, payload interface{}, agreement, recipient string) error {
	key, err := c.loadKey()
	if err != nil {
		return err
	}
	var derived rpc.DeriveResult
	if err := c.callInto(ctx, "escrow_deriveAccounts", rpc.DeriveParams{
		Buyer:       key.PublicKey().String(),
		Instruction: typ.String(),
		Agreement:   agreement,
		Recipient:   recipient,
	}, &derived); err != nil {
		return err
	}

	data, err := types.EncodePayload(payload)
	if err != nil {
		return err
	}
	nonce, err := randomNonce()
	if err != nil {
		return err
	}
	ins := &types.Instruction{
		Type:     typ,
		Accounts: derived.InstructionAccounts,
		Data:     data,
		Nonce:    nonce,
		Expiry:   uint64(c.now().Add(c.ttl).Unix()),
	}
	if err := ins.Sign(key); err != nil {
		return err
	}
	signature := ins.Signature
	ins.Signature = solana.Signature{}
	encoded, err := ins.EncodeHex()
	if err != nil {
		return err
	}
	raw, err := c.call(ctx, "escrow_submit", rpc.SubmitParams{
		Instruction: encoded,
		Signature:   signature.String(),
	}, true)
	if err != nil {
		return err
	}
	return c.print(raw)
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// identityFlag validates a base58 identity flag value.
func identityFlag(name, value string) (solana.PublicKey, error) {
	if strings.TrimSpace(value) == "" {
		return solana.PublicKey{}, fmt.Errorf("--%s is required", name)
	}
	key, err := crypto.ParseIdentity(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("--%s: %w", name, err)
	}
	return key, nil
}

func (c *cli) initGlobalStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-global-state",
		Short: "Create the global state with --key as administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.submit(cmd.Context(), types.InstructionInitializeGlobalState, nil, "", "")
		},
	}
}

func (c *cli) updateAdminCmd() *cobra.Command {
	var newAdmin string
	cmd := &cobra.Command{
		Use:   "update-admin",
		Short: "Hand the administrator role to another identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, err := identityFlag("new-admin", newAdmin)
			if err != nil {
				return err
			}
			return c.submit(cmd.Context(), types.InstructionUpdateAdmin, &types.UpdateAdminPayload{NewAdmin: admin}, "", "")
		},
	}
	cmd.Flags().StringVar(&newAdmin, "new-admin", "", "identity of the new administrator")
	return cmd
}

func (c *cli) updateFeeCmd() *cobra.Command {
	var pct uint64
	cmd := &cobra.Command{
		Use:       "update-fee <buyer|seller>",
		Short:     "Set the buyer or seller fee percentage",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"buyer", "seller"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var typ types.InstructionType
			switch strings.ToLower(args[0]) {
			case "buyer":
				typ = types.InstructionUpdateBuyerFee
			case "seller":
				typ = types.InstructionUpdateSellerFee
			default:
				return fmt.Errorf("fee side must be buyer or seller, got %q", args[0])
			}
			return c.submit(cmd.Context(), typ, &types.FeePayload{Pct: pct}, "", "")
		},
	}
	cmd.Flags().Uint64Var(&pct, "pct", 0, "fee percentage (0-100)")
	_ = cmd.MarkFlagRequired("pct")
	return cmd
}

func (c *cli) initCounterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-counter",
		Short: "Create the agreement counter of --key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.submit(cmd.Context(), types.InstructionInitializeBuyerCounter, nil, "", "")
		},
	}
}

func (c *cli) startCmd() *cobra.Command {
	var (
		seller    string
		reference string
		amount    uint64
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open an agreement and fund its escrow vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sellerKey, err := identityFlag("seller", seller)
			if err != nil {
				return err
			}
			if amount == 0 {
				return fmt.Errorf("--amount must be positive")
			}
			return c.submit(cmd.Context(), types.InstructionStartContract, &types.StartContractPayload{
				Reference: reference,
				Seller:    sellerKey,
				Amount:    amount,
			}, "", "")
		},
	}
	cmd.Flags().StringVar(&seller, "seller", "", "identity paid on release")
	cmd.Flags().StringVar(&reference, "reference", "", "free-form agreement reference")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "agreement amount before fees")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

// agreementCmd builds the commands that act on a single agreement.
func (c *cli) agreementCmd(use, short string, typ types.InstructionType) *cobra.Command {
	var agreement string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := identityFlag("agreement", agreement)
			if err != nil {
				return err
			}
			return c.submit(cmd.Context(), typ, nil, addr.String(), "")
		},
	}
	cmd.Flags().StringVar(&agreement, "agreement", "", "agreement address")
	return cmd
}

func (c *cli) releaseCmd() *cobra.Command {
	return c.agreementCmd("release", "Pay the seller and sweep the fees", types.InstructionReleasePayment)
}

func (c *cli) refundCmd() *cobra.Command {
	return c.agreementCmd("refund", "Return the escrowed deposit to the buyer", types.InstructionRefundBuyer)
}

func (c *cli) readCmd() *cobra.Command {
	return c.agreementCmd("read", "Run the signed read_contract instruction", types.InstructionReadContract)
}

func (c *cli) collectFeesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect-fees",
		Short: "Sweep the platform fee vault to the administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.submit(cmd.Context(), types.InstructionCollectPlatformFees, nil, "", "")
		},
	}
}

func (c *cli) transferCmd() *cobra.Command {
	var (
		to     string
		amount uint64
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move lamports from --key to another identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, err := identityFlag("to", to)
			if err != nil {
				return err
			}
			if amount == 0 {
				return fmt.Errorf("--amount must be positive")
			}
			return c.submit(cmd.Context(), types.InstructionTransfer, &types.TransferPayload{Amount: amount}, "", recipient.String())
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient identity")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to transfer")
	return cmd
}

// printCall runs a query and prints its result.
func (c *cli) printCall(ctx context.Context, method string, params interface{}) error {
	raw, err := c.call(ctx, method, params, false)
	if err != nil {
		return err
	}
	return c.print(raw)
}

// identityArg resolves an optional positional identity, falling back to the
// public key of --key.
func (c *cli) identityArg(args []string) (solana.PublicKey, error) {
	if len(args) > 0 {
		return crypto.ParseIdentity(args[0])
	}
	key, err := c.loadKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("pass an address or --key: %w", err)
	}
	return key.PublicKey(), nil
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <agreement>",
		Short: "Show an agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.printCall(cmd.Context(), "escrow_getAgreement", rpc.AddressParams{Address: args[0]})
		},
	}
}

func (c *cli) globalStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "global-state",
		Short: "Show the administrator and fee schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.printCall(cmd.Context(), "escrow_getGlobalState", struct{}{})
		},
	}
}

func (c *cli) counterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counter [buyer]",
		Short: "Show the agreement counter of a buyer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buyer, err := c.identityArg(args)
			if err != nil {
				return err
			}
			return c.printCall(cmd.Context(), "escrow_getCounter", rpc.BuyerParams{Buyer: buyer.String()})
		},
	}
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the balance of an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := c.identityArg(args)
			if err != nil {
				return err
			}
			return c.printCall(cmd.Context(), "escrow_getBalance", rpc.AddressParams{Address: addr.String()})
		},
	}
}

func (c *cli) quoteCmd() *cobra.Command {
	var amount uint64
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price an agreement under the current fee schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.printCall(cmd.Context(), "escrow_quote", rpc.QuoteParams{Amount: amount})
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "agreement amount before fees")
	return cmd
}

func (c *cli) deriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive [buyer]",
		Short: "Show the program accounts of the next agreement of a buyer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buyer, err := c.identityArg(args)
			if err != nil {
				return err
			}
			return c.printCall(cmd.Context(), "escrow_deriveAccounts", rpc.DeriveParams{Buyer: buyer.String()})
		},
	}
}
