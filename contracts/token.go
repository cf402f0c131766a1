package contracts

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/vm"
)

var (
	ErrTokenInsufficientBalance = errors.New("token: transfer amount exceeds balance")
	ErrTokenOverflow            = errors.New("token: supply overflow")
	ErrTokenZeroAddress         = errors.New("token: zero address")
)

// TokenCodeHash is the bytecode hash the deployer maps to Token
var TokenCodeHash = crypto.Keccak256Hash([]byte("mmn-aa/contracts.Token"))

const tokenABIJSON = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var TokenABI = vm.MustParseABI(tokenABIJSON)

// Token is a minimal fungible token with open minting
type Token struct {
	Name string
}

func NewToken(name string) *Token {
	return &Token{Name: name}
}

// TokenFactory builds a Token from constructor input, which is the raw name
func TokenFactory(input []byte) (vm.Contract, error) {
	return NewToken(string(input)), nil
}

func (t *Token) Run(f *vm.Frame, input []byte) ([]byte, error) {
	method, args, err := vm.DecodeCall(TokenABI, input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "mint":
		to := args[0].(common.Address)
		amount, err := vm.BigToU256(args[1].(*big.Int))
		if err != nil {
			return nil, err
		}
		return nil, t.mint(f, to, amount)

	case "transfer":
		to := args[0].(common.Address)
		amount, err := vm.BigToU256(args[1].(*big.Int))
		if err != nil {
			return nil, err
		}
		if err := t.transfer(f, f.Caller, to, amount); err != nil {
			return nil, err
		}
		return method.Outputs.Pack(true)

	case "balanceOf":
		if err := f.UseGas(vm.StorageReadGas); err != nil {
			return nil, err
		}
		return method.Outputs.Pack(balanceOf(f, args[0].(common.Address)).ToBig())

	case "totalSupply":
		if err := f.UseGas(vm.StorageReadGas); err != nil {
			return nil, err
		}
		return method.Outputs.Pack(word(f.GetState(supplyKey())).ToBig())
	}
	return nil, fmt.Errorf("%w: %s", vm.ErrUnknownMethod, method.Name)
}

func (t *Token) mint(f *vm.Frame, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrTokenZeroAddress
	}
	if err := f.UseGas(2 * vm.StorageWriteGas); err != nil {
		return err
	}
	supply, overflow := new(uint256.Int).AddOverflow(word(f.GetState(supplyKey())), amount)
	if overflow {
		return ErrTokenOverflow
	}
	f.SetState(supplyKey(), common.Hash(supply.Bytes32()))
	f.SetState(balanceKey(to), common.Hash(new(uint256.Int).Add(balanceOf(f, to), amount).Bytes32()))
	f.Emit("Transfer", map[string]string{
		"from":   common.Address{}.Hex(),
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	return nil
}

func (t *Token) transfer(f *vm.Frame, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrTokenZeroAddress
	}
	if err := f.UseGas(2 * vm.StorageWriteGas); err != nil {
		return err
	}
	fromBal := balanceOf(f, from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: has %s, wants %s", ErrTokenInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	f.SetState(balanceKey(from), common.Hash(new(uint256.Int).Sub(fromBal, amount).Bytes32()))
	f.SetState(balanceKey(to), common.Hash(new(uint256.Int).Add(balanceOf(f, to), amount).Bytes32()))
	f.Emit("Transfer", map[string]string{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	return nil
}

func balanceOf(f *vm.Frame, addr common.Address) *uint256.Int {
	return word(f.GetState(balanceKey(addr)))
}

func word(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

func balanceKey(addr common.Address) common.Hash {
	return crypto.Keccak256Hash([]byte("token.balance"), addr.Bytes())
}

func supplyKey() common.Hash {
	return crypto.Keccak256Hash([]byte("token.supply"))
}

// PackMint encodes mint(to, amount)
func PackMint(to common.Address, amount *uint256.Int) ([]byte, error) {
	return TokenABI.Pack("mint", to, amount.ToBig())
}

// PackTransfer encodes transfer(to, amount)
func PackTransfer(to common.Address, amount *uint256.Int) ([]byte, error) {
	return TokenABI.Pack("transfer", to, amount.ToBig())
}

// PackBalanceOf encodes balanceOf(account)
func PackBalanceOf(account common.Address) ([]byte, error) {
	return TokenABI.Pack("balanceOf", account)
}

// UnpackBalance decodes the balanceOf return value
func UnpackBalance(out []byte) (*uint256.Int, error) {
	values, err := TokenABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	b, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected return type %T", values[0])
	}
	return vm.BigToU256(b)
}
