package system

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mezonai/mmn-aa/vm"
)

var ErrNotBootloader = errors.New("only the bootloader may mark factory dependencies")

const knownCodesABIJSON = `[
	{"type":"function","name":"markFactoryDeps","stateMutability":"nonpayable","inputs":[{"name":"hashes","type":"bytes32[]"}],"outputs":[]},
	{"type":"function","name":"getMarker","stateMutability":"view","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

var KnownCodesABI = vm.MustParseABI(knownCodesABIJSON)

// KnownCodes records which bytecode hashes were published with a
// transaction's factory deps and may therefore be deployed
type KnownCodes struct {
	bootloader common.Address
}

func NewKnownCodes(bootloader common.Address) *KnownCodes {
	return &KnownCodes{bootloader: bootloader}
}

func (k *KnownCodes) Run(f *vm.Frame, input []byte) ([]byte, error) {
	method, args, err := vm.DecodeCall(KnownCodesABI, input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "markFactoryDeps":
		if err := f.RequireSystem(); err != nil {
			return nil, err
		}
		if f.Caller != k.bootloader {
			return nil, fmt.Errorf("%w: %s", ErrNotBootloader, f.Caller.Hex())
		}
		hashes := args[0].([][32]byte)
		for _, h := range hashes {
			if err := f.UseGas(vm.StorageWriteGas); err != nil {
				return nil, err
			}
			key := knownKey(h)
			if f.GetState(key) == (common.Hash{}) {
				f.SetState(key, common.BytesToHash([]byte{1}))
				f.Emit("MarkedAsKnown", map[string]string{"bytecodeHash": common.Hash(h).Hex()})
			}
		}
		return nil, nil

	case "getMarker":
		if err := f.UseGas(vm.StorageReadGas); err != nil {
			return nil, err
		}
		h := args[0].([32]byte)
		return method.Outputs.Pack(f.GetState(knownKey(h)) != (common.Hash{}))
	}
	return nil, fmt.Errorf("%w: %s", vm.ErrUnknownMethod, method.Name)
}

func knownKey(h [32]byte) common.Hash {
	return slot("code.known", h[:])
}

// PackMarkFactoryDeps encodes markFactoryDeps(hashes)
func PackMarkFactoryDeps(hashes []common.Hash) ([]byte, error) {
	words := make([][32]byte, len(hashes))
	for i, h := range hashes {
		words[i] = h
	}
	return KnownCodesABI.Pack("markFactoryDeps", words)
}

// PackGetMarker encodes getMarker(hash)
func PackGetMarker(hash common.Hash) ([]byte, error) {
	return KnownCodesABI.Pack("getMarker", [32]byte(hash))
}
