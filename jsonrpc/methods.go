package jsonrpc

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/types"
)

// JSON-RPC Method name constants
const (
	// Account abstraction methods
	MethodSendTransaction    = "aa.sendtransaction"
	MethodExecuteFromOutside = "aa.executefromoutside"
	MethodGetReceipt         = "aa.getreceipt"
	MethodListReceipts       = "aa.listreceipts"

	// Account methods
	MethodAccountGetAccount  = "account.getaccount"
	MethodAccountGetNonce    = "account.getnonce"
	MethodAccountIsNonceUsed = "account.isnonceused"

	// Health methods
	MethodHealthCheck = "health.check"
)

// TraceHeader carries a client chosen trace id
const TraceHeader = "X-Trace-Id"

type SendTransactionParams struct {
	Transaction *types.Transaction `json:"transaction"`
}

type ExecuteFromOutsideParams struct {
	Relayer     string             `json:"relayer"`
	Transaction *types.Transaction `json:"transaction"`
}

type ExecuteFromOutsideResponse struct {
	ReturnData hexutil.Bytes `json:"return_data"`
}

type GetReceiptParams struct {
	TxHash string `json:"tx_hash"`
}

type AddressParams struct {
	Address string `json:"address"`
}

type GetNonceParams struct {
	Address string `json:"address"`
	Tag     string `json:"tag"`
}

type GetNonceResponse struct {
	Address string       `json:"address"`
	Nonce   *uint256.Int `json:"nonce"`
	Tag     string       `json:"tag"`
}

type IsNonceUsedParams struct {
	Address string       `json:"address"`
	Nonce   *uint256.Int `json:"nonce"`
}

type IsNonceUsedResponse struct {
	Used bool `json:"used"`
}
