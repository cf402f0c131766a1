package cmd

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/config"
	"github.com/mezonai/mmn-aa/interfaces"
	"github.com/mezonai/mmn-aa/jsonrpc"
	"github.com/mezonai/mmn-aa/types"
	"github.com/spf13/cobra"
)

type SendConfig struct {
	PrivateKey     string
	PrivateKeyFile string
	From           string
	To             string
	Data           string
	Value          string
	GasLimit       string
	GasPerPubdata  string
	Nonce          string
	Relayer        string
}

var sendConfig SendConfig

var sendCmd = &cobra.Command{
	Use:   "send [flags]",
	Short: "Sign and submit a transaction from a smart account",
	Long: `Build a type 0x71 transaction from the smart account at --from, sign it
with the owner key and submit it to the node. The nonce defaults to the
pending nonce of the account. With --relayer the transaction is executed
from outside on behalf of that relayer and no fee is charged.

Examples:
  send -f owner.key --from 0x5a5a...01 --to 0x70ce...01 --data 0x40c10f19...
  send -p <hex key> --from 0x5a5a...01 --to 0x...a11ce --value 1_000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendTransaction(cmd.Context(), sendConfig)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendConfig.PrivateKeyFile, "private-key-file", "f", "", "owner private key file")
	sendCmd.Flags().StringVarP(&sendConfig.PrivateKey, "private-key", "p", "", "owner private key in hex")
	sendCmd.Flags().StringVar(&sendConfig.From, "from", "", "smart account address")
	sendCmd.Flags().StringVarP(&sendConfig.To, "to", "t", "", "call target")
	sendCmd.Flags().StringVarP(&sendConfig.Data, "data", "d", "0x", "hex calldata")
	sendCmd.Flags().StringVarP(&sendConfig.Value, "value", "a", "0", "value to transfer")
	sendCmd.Flags().StringVar(&sendConfig.GasLimit, "gas-limit", "1000000", "gas limit")
	sendCmd.Flags().StringVar(&sendConfig.GasPerPubdata, "gas-per-pubdata", "800", "gas per pubdata byte limit")
	sendCmd.Flags().StringVar(&sendConfig.Nonce, "nonce", "", "nonce, defaults to the pending nonce")
	sendCmd.Flags().StringVar(&sendConfig.Relayer, "relayer", "", "execute from outside on behalf of this relayer")
	_ = sendCmd.MarkFlagRequired("from")
	_ = sendCmd.MarkFlagRequired("to")
}

func sendTransaction(ctx context.Context, sc SendConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := loadOwnerKey(sc)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(sc.From) || !common.IsHexAddress(sc.To) {
		return fmt.Errorf("--from and --to must be hex addresses")
	}
	data, err := hexutil.Decode(sc.Data)
	if err != nil {
		return fmt.Errorf("invalid calldata: %w", err)
	}

	tx := &types.Transaction{
		Type: types.TxTypeAccountAbstraction,
		From: common.HexToAddress(sc.From),
		To:   common.HexToAddress(sc.To),
		Data: data,
	}
	if tx.Value, err = config.ParseAmount(strings.ReplaceAll(sc.Value, "_", "")); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	if tx.GasLimit, err = config.ParseAmount(sc.GasLimit); err != nil {
		return fmt.Errorf("invalid gas limit: %w", err)
	}
	if tx.GasPerPubdataByteLimit, err = config.ParseAmount(sc.GasPerPubdata); err != nil {
		return fmt.Errorf("invalid gas per pubdata: %w", err)
	}
	if tx.Nonce, err = resolveNonce(ctx, sc); err != nil {
		return err
	}

	var health interfaces.HealthStatus
	if err := call(ctx, jsonrpc.MethodHealthCheck, nil, &health); err != nil {
		return err
	}
	chainID, err := uint256.FromDecimal(health.ChainID)
	if err != nil {
		return fmt.Errorf("node reported chain id %q: %w", health.ChainID, err)
	}

	sig, err := crypto.Sign(tx.EncodeHash(chainID).Bytes(), key)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	sig[64] += 27
	tx.Signature = sig

	if sc.Relayer != "" {
		var resp jsonrpc.ExecuteFromOutsideResponse
		if err := call(ctx, jsonrpc.MethodExecuteFromOutside, jsonrpc.ExecuteFromOutsideParams{Relayer: sc.Relayer, Transaction: tx}, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	}

	var receipt types.Receipt
	if err := call(ctx, jsonrpc.MethodSendTransaction, jsonrpc.SendTransactionParams{Transaction: tx}, &receipt); err != nil {
		return err
	}
	return printJSON(receipt)
}

func resolveNonce(ctx context.Context, sc SendConfig) (*uint256.Int, error) {
	if sc.Nonce != "" {
		n, err := config.ParseAmount(sc.Nonce)
		if err != nil {
			return nil, fmt.Errorf("invalid nonce: %w", err)
		}
		return n, nil
	}
	var resp jsonrpc.GetNonceResponse
	if err := call(ctx, jsonrpc.MethodAccountGetNonce, jsonrpc.GetNonceParams{Address: sc.From, Tag: "pending"}, &resp); err != nil {
		return nil, err
	}
	return resp.Nonce, nil
}

func loadOwnerKey(sc SendConfig) (*ecdsa.PrivateKey, error) {
	raw := sc.PrivateKey
	if raw == "" && sc.PrivateKeyFile != "" {
		b, err := os.ReadFile(sc.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		raw = string(b)
	}
	if raw == "" {
		return nil, fmt.Errorf("either --private-key or --private-key-file must be provided")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
