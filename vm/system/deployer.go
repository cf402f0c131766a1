package system

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/vm"
)

var (
	ErrUnknownCode   = errors.New("bytecode hash is not known")
	ErrNoCodeFactory = errors.New("no implementation registered for bytecode hash")
	ErrZeroCodeHash  = errors.New("bytecode hash is zero")

	create2Prefix = crypto.Keccak256([]byte("zksyncCreate2"))
)

const deployerABIJSON = `[
	{"type":"function","name":"create","stateMutability":"payable","inputs":[{"name":"salt","type":"bytes32"},{"name":"bytecodeHash","type":"bytes32"},{"name":"input","type":"bytes"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getNewAddressCreate2","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"bytecodeHash","type":"bytes32"},{"name":"salt","type":"bytes32"},{"name":"input","type":"bytes"}],"outputs":[{"name":"","type":"address"}]}
]`

var DeployerABI = vm.MustParseABI(deployerABIJSON)

// CodeFactory builds a contract instance from constructor input
type CodeFactory func(input []byte) (vm.Contract, error)

// ContractDeployer creates contracts whose bytecode hash is marked known.
// Code is implemented in Go; each bytecode hash maps to a factory.
type ContractDeployer struct {
	mu         sync.RWMutex
	knownCodes common.Address
	factories  map[common.Hash]CodeFactory
}

func NewContractDeployer(knownCodes common.Address) *ContractDeployer {
	return &ContractDeployer{
		knownCodes: knownCodes,
		factories:  make(map[common.Hash]CodeFactory),
	}
}

// RegisterCode binds an implementation to a bytecode hash
func (d *ContractDeployer) RegisterCode(hash common.Hash, factory CodeFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[hash] = factory
}

func (d *ContractDeployer) factory(hash common.Hash) (CodeFactory, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.factories[hash]
	return f, ok
}

func (d *ContractDeployer) Run(f *vm.Frame, input []byte) ([]byte, error) {
	method, args, err := vm.DecodeCall(DeployerABI, input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "create":
		if err := f.RequireSystem(); err != nil {
			return nil, err
		}
		salt := common.Hash(args[0].([32]byte))
		codeHash := common.Hash(args[1].([32]byte))
		ctorInput := args[2].([]byte)
		addr, err := d.create(f, salt, codeHash, ctorInput)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(addr)

	case "getNewAddressCreate2":
		sender := args[0].(common.Address)
		codeHash := common.Hash(args[1].([32]byte))
		salt := common.Hash(args[2].([32]byte))
		return method.Outputs.Pack(Create2Address(sender, salt, codeHash, args[3].([]byte)))
	}
	return nil, fmt.Errorf("%w: %s", vm.ErrUnknownMethod, method.Name)
}

func (d *ContractDeployer) create(f *vm.Frame, salt, codeHash common.Hash, input []byte) (common.Address, error) {
	if codeHash == (common.Hash{}) {
		return common.Address{}, ErrZeroCodeHash
	}

	query, err := PackGetMarker(codeHash)
	if err != nil {
		return common.Address{}, err
	}
	out, err := f.Call(d.knownCodes, nil, query)
	if err != nil {
		return common.Address{}, fmt.Errorf("known codes lookup: %w", err)
	}
	known, err := UnpackBool(KnownCodesABI, "getMarker", out)
	if err != nil {
		return common.Address{}, err
	}
	if !known {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownCode, codeHash.Hex())
	}

	factory, ok := d.factory(codeHash)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNoCodeFactory, codeHash.Hex())
	}
	contract, err := factory(input)
	if err != nil {
		return common.Address{}, fmt.Errorf("constructor failed: %w", err)
	}

	addr := Create2Address(f.Caller, salt, codeHash, input)
	if err := f.UseGas(vm.StorageWriteGas); err != nil {
		return common.Address{}, err
	}
	if err := f.Machine().Register(addr, contract, false); err != nil {
		return common.Address{}, err
	}
	// value sent with the deployment belongs to the new contract
	if err := f.Machine().State().Transfer(f.Self, addr, f.Value); err != nil {
		return common.Address{}, err
	}

	f.Emit("ContractDeployed", map[string]string{
		"deployer":     f.Caller.Hex(),
		"bytecodeHash": codeHash.Hex(),
		"address":      addr.Hex(),
	})
	logx.Info("DEPLOYER", fmt.Sprintf("Deployed %s at %s for %s", codeHash.Hex(), addr.Hex(), f.Caller.Hex()))
	return addr, nil
}

// Create2Address derives the address of a contract created by sender
func Create2Address(sender common.Address, salt, codeHash common.Hash, input []byte) common.Address {
	h := crypto.Keccak256(
		create2Prefix,
		common.LeftPadBytes(sender.Bytes(), 32),
		salt.Bytes(),
		codeHash.Bytes(),
		crypto.Keccak256(input),
	)
	return common.BytesToAddress(h[12:])
}

// PackCreate encodes create(salt, bytecodeHash, input)
func PackCreate(salt, codeHash common.Hash, input []byte) ([]byte, error) {
	return DeployerABI.Pack("create", [32]byte(salt), [32]byte(codeHash), input)
}

// UnpackAddress decodes the address returned by create
func UnpackAddress(out []byte) (common.Address, error) {
	values, err := DeployerABI.Unpack("create", out)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("create: unexpected return type %T", values[0])
	}
	return addr, nil
}
