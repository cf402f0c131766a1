package types

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// TxTypeAccountAbstraction is the type tag of transactions sent from smart accounts
const TxTypeAccountAbstraction uint8 = 0x71

var (
	ErrInvalidTxType = errors.New("transaction type is not account abstraction (0x71)")
	ErrMissingField  = errors.New("transaction is missing a required numeric field")
)

// Transaction is the caller-supplied description of one operation of a smart
// account. Numeric fields are 256-bit; nil is treated as zero by every reader.
type Transaction struct {
	Type                   uint8          `json:"type"`
	From                   common.Address `json:"from"`
	To                     common.Address `json:"to"`
	GasLimit               *uint256.Int   `json:"gasLimit"`
	GasPerPubdataByteLimit *uint256.Int   `json:"gasPerPubdataByteLimit"`
	MaxFeePerGas           *uint256.Int   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas   *uint256.Int   `json:"maxPriorityFeePerGas"`
	Paymaster              common.Address `json:"paymaster"`
	Nonce                  *uint256.Int   `json:"nonce"`
	Value                  *uint256.Int   `json:"value"`
	Data                   hexutil.Bytes  `json:"data"`
	Signature              hexutil.Bytes  `json:"signature"`
	FactoryDeps            []common.Hash  `json:"factoryDeps"`
	PaymasterInput         hexutil.Bytes  `json:"paymasterInput"`
	ReservedDynamic        hexutil.Bytes  `json:"reservedDynamic"`
}

const (
	eip712DomainName    = "zkSync"
	eip712DomainVersion = "2"
)

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))

	eip712TransactionTypeHash = crypto.Keccak256Hash([]byte(
		"Transaction(uint256 txType,uint256 from,uint256 to,uint256 gasLimit,uint256 gasPerPubdataByteLimit," +
			"uint256 maxFeePerGas,uint256 maxPriorityFeePerGas,uint256 paymaster,uint256 nonce,uint256 value," +
			"bytes data,bytes32[] factoryDeps,bytes paymasterInput)"))

	eip712NameHash    = crypto.Keccak256Hash([]byte(eip712DomainName))
	eip712VersionHash = crypto.Keccak256Hash([]byte(eip712DomainVersion))
)

// U256 returns v, or a fresh zero when v is nil
func U256(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// CheckWellFormed verifies the type tag. Numeric fields may be nil (zero).
func (tx *Transaction) CheckWellFormed() error {
	if tx.Type != TxTypeAccountAbstraction {
		return ErrInvalidTxType
	}
	return nil
}

// HasPaymaster reports whether a fee sponsor is named
func (tx *Transaction) HasPaymaster() bool {
	return tx.Paymaster != (common.Address{})
}

// EncodeHash returns the EIP-712 content hash the owner signs:
// keccak256(0x1901 ‖ domainSeparator(chainID) ‖ structHash).
func (tx *Transaction) EncodeHash(chainID *uint256.Int) common.Hash {
	domain := domainSeparator(chainID)
	structHash := tx.structHash()

	buf := make([]byte, 0, 2+2*common.HashLength)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domain[:]...)
	buf = append(buf, structHash[:]...)
	return crypto.Keccak256Hash(buf)
}

// Hash identifies a signed transaction: keccak256(EncodeHash ‖ keccak256(signature)).
// Two submissions differing only in signature have different hashes.
func (tx *Transaction) Hash(chainID *uint256.Int) common.Hash {
	signed := tx.EncodeHash(chainID)
	sigHash := crypto.Keccak256Hash(tx.Signature)
	return crypto.Keccak256Hash(signed[:], sigHash[:])
}

func (tx *Transaction) structHash() common.Hash {
	buf := make([]byte, 0, 14*32)
	buf = append(buf, eip712TransactionTypeHash[:]...)
	buf = appendWord(buf, uint256.NewInt(uint64(tx.Type)))
	buf = appendAddress(buf, tx.From)
	buf = appendAddress(buf, tx.To)
	buf = appendWord(buf, tx.GasLimit)
	buf = appendWord(buf, tx.GasPerPubdataByteLimit)
	buf = appendWord(buf, tx.MaxFeePerGas)
	buf = appendWord(buf, tx.MaxPriorityFeePerGas)
	buf = appendAddress(buf, tx.Paymaster)
	buf = appendWord(buf, tx.Nonce)
	buf = appendWord(buf, tx.Value)
	buf = append(buf, crypto.Keccak256(tx.Data)...)

	// abi.encodePacked(bytes32[]) is the plain concatenation
	deps := make([]byte, 0, len(tx.FactoryDeps)*common.HashLength)
	for _, dep := range tx.FactoryDeps {
		deps = append(deps, dep[:]...)
	}
	buf = append(buf, crypto.Keccak256(deps)...)
	buf = append(buf, crypto.Keccak256(tx.PaymasterInput)...)
	return crypto.Keccak256Hash(buf)
}

func domainSeparator(chainID *uint256.Int) common.Hash {
	buf := make([]byte, 0, 4*32)
	buf = append(buf, eip712DomainTypeHash[:]...)
	buf = append(buf, eip712NameHash[:]...)
	buf = append(buf, eip712VersionHash[:]...)
	buf = appendWord(buf, chainID)
	return crypto.Keccak256Hash(buf)
}

func appendWord(buf []byte, v *uint256.Int) []byte {
	word := U256(v).Bytes32()
	return append(buf, word[:]...)
}

func appendAddress(buf []byte, addr common.Address) []byte {
	return append(buf, common.LeftPadBytes(addr.Bytes(), 32)...)
}
