package system

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm"
)

// MaxNonceGap bounds how far ahead of minNonce an arbitrary-ordering
// account may reserve a nonce
const MaxNonceGap = 1 << 32

var (
	ErrNonceMismatch     = errors.New("nonce does not match the expected sequential nonce")
	ErrNonceAlreadyUsed  = errors.New("nonce already used")
	ErrNonceTooFar       = errors.New("nonce is too far ahead of the minimal nonce")
	ErrOrderingDowngrade = errors.New("nonce ordering can only change from sequential to arbitrary")
	ErrInvalidOrdering   = errors.New("invalid nonce ordering")
)

const nonceHolderABIJSON = `[
	{"type":"function","name":"incrementMinNonceIfEquals","stateMutability":"nonpayable","inputs":[{"name":"expectedNonce","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getMinNonce","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isNonceUsed","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"nonce","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"updateNonceOrdering","stateMutability":"nonpayable","inputs":[{"name":"ordering","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"getNonceOrdering","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint8"}]}
]`

// NonceHolderABI describes the nonce registry calls
var NonceHolderABI = vm.MustParseABI(nonceHolderABIJSON)

// NonceHolder is the process-wide nonce registry. Every account has a
// minimal nonce, a set of used nonces above it and an ordering mode.
// Mutations are accepted only through the system channel and always apply
// to the calling account.
type NonceHolder struct{}

func NewNonceHolder() *NonceHolder {
	return &NonceHolder{}
}

func (n *NonceHolder) Run(f *vm.Frame, input []byte) ([]byte, error) {
	method, args, err := vm.DecodeCall(NonceHolderABI, input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "incrementMinNonceIfEquals":
		if err := f.RequireSystem(); err != nil {
			return nil, err
		}
		nonce, err := vm.BigToU256(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return nil, n.consume(f, f.Caller, nonce)

	case "getMinNonce":
		if err := f.UseGas(vm.StorageReadGas); err != nil {
			return nil, err
		}
		account := args[0].(common.Address)
		return method.Outputs.Pack(minNonce(f, account).ToBig())

	case "isNonceUsed":
		account := args[0].(common.Address)
		nonce, err := vm.BigToU256(args[1].(*big.Int))
		if err != nil {
			return nil, err
		}
		if err := f.UseGas(2 * vm.StorageReadGas); err != nil {
			return nil, err
		}
		return method.Outputs.Pack(isUsed(f, account, nonce))

	case "updateNonceOrdering":
		if err := f.RequireSystem(); err != nil {
			return nil, err
		}
		return nil, n.updateOrdering(f, f.Caller, types.NonceOrdering(args[0].(uint8)))

	case "getNonceOrdering":
		if err := f.UseGas(vm.StorageReadGas); err != nil {
			return nil, err
		}
		account := args[0].(common.Address)
		return method.Outputs.Pack(uint8(ordering(f, account)))
	}
	return nil, fmt.Errorf("%w: %s", vm.ErrUnknownMethod, method.Name)
}

func (n *NonceHolder) consume(f *vm.Frame, account common.Address, nonce *uint256.Int) error {
	if err := f.UseGas(2*vm.StorageReadGas + vm.StorageWriteGas); err != nil {
		return err
	}
	min := minNonce(f, account)

	if ordering(f, account) == types.NonceOrderingSequential {
		if !nonce.Eq(min) {
			return fmt.Errorf("%w: expected %s, got %s", ErrNonceMismatch, min.Dec(), nonce.Dec())
		}
		setMinNonce(f, account, new(uint256.Int).AddUint64(min, 1))
		logx.Debug("NONCE_HOLDER", fmt.Sprintf("%s consumed sequential nonce %s", account.Hex(), nonce.Dec()))
		return nil
	}

	if isUsed(f, account, nonce) {
		return fmt.Errorf("%w: %s", ErrNonceAlreadyUsed, nonce.Dec())
	}
	limit, overflow := new(uint256.Int).AddOverflow(min, uint256.NewInt(MaxNonceGap))
	if !overflow && !nonce.Lt(limit) {
		return fmt.Errorf("%w: min %s, got %s", ErrNonceTooFar, min.Dec(), nonce.Dec())
	}

	f.SetState(usedKey(account, nonce), common.BytesToHash([]byte{1}))
	// advance past the contiguous run of used nonces
	next := min.Clone()
	for f.GetState(usedKey(account, next)) != (common.Hash{}) {
		if err := f.UseGas(vm.StorageReadGas + vm.StorageWriteGas); err != nil {
			return err
		}
		f.SetState(usedKey(account, next), common.Hash{})
		next.AddUint64(next, 1)
	}
	if !next.Eq(min) {
		setMinNonce(f, account, next)
	}
	logx.Debug("NONCE_HOLDER", fmt.Sprintf("%s consumed arbitrary nonce %s (min %s)", account.Hex(), nonce.Dec(), next.Dec()))
	return nil
}

func (n *NonceHolder) updateOrdering(f *vm.Frame, account common.Address, next types.NonceOrdering) error {
	if next != types.NonceOrderingSequential && next != types.NonceOrderingArbitrary {
		return fmt.Errorf("%w: %d", ErrInvalidOrdering, next)
	}
	if err := f.UseGas(vm.StorageReadGas + vm.StorageWriteGas); err != nil {
		return err
	}
	current := ordering(f, account)
	if current == next {
		return nil
	}
	if current == types.NonceOrderingArbitrary {
		return ErrOrderingDowngrade
	}
	f.SetState(orderingKey(account), common.BytesToHash([]byte{byte(next)}))
	f.Emit("NonceOrderingUpdated", map[string]string{
		"account":  account.Hex(),
		"ordering": next.String(),
	})
	return nil
}

func minNonce(f *vm.Frame, account common.Address) *uint256.Int {
	return wordToU256(f.GetState(minNonceKey(account)))
}

func setMinNonce(f *vm.Frame, account common.Address, v *uint256.Int) {
	f.SetState(minNonceKey(account), u256ToWord(v))
}

// isUsed reports whether nonce is below the minimal nonce or marked used
func isUsed(f *vm.Frame, account common.Address, nonce *uint256.Int) bool {
	if nonce.Lt(minNonce(f, account)) {
		return true
	}
	return f.GetState(usedKey(account, nonce)) != (common.Hash{})
}

func ordering(f *vm.Frame, account common.Address) types.NonceOrdering {
	h := f.GetState(orderingKey(account))
	return types.NonceOrdering(h[common.HashLength-1])
}

func minNonceKey(account common.Address) common.Hash {
	return slot("nonce.min", account.Bytes())
}

func usedKey(account common.Address, nonce *uint256.Int) common.Hash {
	word := nonce.Bytes32()
	return slot("nonce.used", account.Bytes(), word[:])
}

func orderingKey(account common.Address) common.Hash {
	return slot("nonce.ordering", account.Bytes())
}

// PackIncrementMinNonce encodes incrementMinNonceIfEquals(nonce)
func PackIncrementMinNonce(nonce *uint256.Int) ([]byte, error) {
	return NonceHolderABI.Pack("incrementMinNonceIfEquals", types.U256(nonce).ToBig())
}

// PackUpdateNonceOrdering encodes updateNonceOrdering(ordering)
func PackUpdateNonceOrdering(o types.NonceOrdering) ([]byte, error) {
	return NonceHolderABI.Pack("updateNonceOrdering", uint8(o))
}

// PackGetMinNonce encodes getMinNonce(account)
func PackGetMinNonce(account common.Address) ([]byte, error) {
	return NonceHolderABI.Pack("getMinNonce", account)
}

// PackIsNonceUsed encodes isNonceUsed(account, nonce)
func PackIsNonceUsed(account common.Address, nonce *uint256.Int) ([]byte, error) {
	return NonceHolderABI.Pack("isNonceUsed", account, types.U256(nonce).ToBig())
}

// PackGetNonceOrdering encodes getNonceOrdering(account)
func PackGetNonceOrdering(account common.Address) ([]byte, error) {
	return NonceHolderABI.Pack("getNonceOrdering", account)
}

// UnpackUint256 decodes a single uint256 return value
func UnpackUint256(contract abi.ABI, method string, out []byte) (*uint256.Int, error) {
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: expected 1 return value, got %d", method, len(values))
	}
	b, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, values[0])
	}
	return vm.BigToU256(b)
}

// UnpackBool decodes a single bool return value
func UnpackBool(contract abi.ABI, method string, out []byte) (bool, error) {
	values, err := contract.Unpack(method, out)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("%s: expected 1 return value, got %d", method, len(values))
	}
	v, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected return type %T", method, values[0])
	}
	return v, nil
}

// UnpackNonceOrdering decodes the return value of getNonceOrdering
func UnpackNonceOrdering(out []byte) (types.NonceOrdering, error) {
	values, err := NonceHolderABI.Unpack("getNonceOrdering", out)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("getNonceOrdering: expected 1 return value, got %d", len(values))
	}
	v, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("getNonceOrdering: unexpected return type %T", values[0])
	}
	return types.NonceOrdering(v), nil
}
