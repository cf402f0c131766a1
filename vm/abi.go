package vm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
)

// MustParseABI parses a contract interface definition, panicking on bad JSON
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// DecodeCall resolves the method named by the selector of input and
// unpacks its arguments
func DecodeCall(contract abi.ABI, input []byte) (*abi.Method, []interface{}, error) {
	if len(input) < 4 {
		return nil, nil, fmt.Errorf("%w: calldata too short", ErrUnknownMethod)
	}
	method, err := contract.MethodById(input[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %x", ErrUnknownMethod, input[:4])
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unable to decode %s: %w", method.Name, err)
	}
	return method, args, nil
}

// BigToU256 converts an abi-decoded integer, failing on overflow
func BigToU256(b *big.Int) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("value %s does not fit 256 bits", b)
	}
	return v, nil
}
