package cmd

import (
	"github.com/mezonai/mmn-aa/jsonrpc"
	"github.com/mezonai/mmn-aa/types"
	"github.com/spf13/cobra"
)

var accountNonceTag string

var accountCmd = &cobra.Command{
	Use:   "account <address>",
	Short: "Show a smart account and its nonce",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var acc types.Account
		if err := call(ctx, jsonrpc.MethodAccountGetAccount, jsonrpc.AddressParams{Address: args[0]}, &acc); err != nil {
			return err
		}
		var nonce jsonrpc.GetNonceResponse
		if err := call(ctx, jsonrpc.MethodAccountGetNonce, jsonrpc.GetNonceParams{Address: args[0], Tag: accountNonceTag}, &nonce); err != nil {
			return err
		}
		return printJSON(map[string]any{"account": acc, "nonce": nonce})
	},
}

var receiptCmd = &cobra.Command{
	Use:   "receipt <tx-hash>",
	Short: "Show the receipt of a processed transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var receipt types.Receipt
		if err := call(cmd.Context(), jsonrpc.MethodGetReceipt, jsonrpc.GetReceiptParams{TxHash: args[0]}, &receipt); err != nil {
			return err
		}
		return printJSON(receipt)
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(receiptCmd)
	accountCmd.Flags().StringVar(&accountNonceTag, "tag", "latest", "nonce tag, latest or pending")
}
