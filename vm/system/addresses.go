package system

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Default addresses of the system contracts
var (
	BootloaderAddress       = common.HexToAddress("0x0000000000000000000000000000000000008001")
	NonceHolderAddress      = common.HexToAddress("0x0000000000000000000000000000000000008003")
	KnownCodesAddress       = common.HexToAddress("0x0000000000000000000000000000000000008004")
	ContractDeployerAddress = common.HexToAddress("0x0000000000000000000000000000000000008006")
)

// slot derives a storage key from a label and its arguments
func slot(label string, parts ...[]byte) common.Hash {
	data := make([][]byte, 0, len(parts)+1)
	data = append(data, []byte(label))
	data = append(data, parts...)
	return crypto.Keccak256Hash(data...)
}

func wordToU256(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

func u256ToWord(v *uint256.Int) common.Hash {
	return common.Hash(v.Bytes32())
}
