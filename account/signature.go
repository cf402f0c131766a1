package account

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mezonai/mmn-aa/types"
	"golang.org/x/crypto/sha3"
)

// SignatureLength is r ‖ s ‖ v
const SignatureLength = 65

var (
	errSignatureLength = errors.New("signature must be 65 bytes")
	errRecoveryID      = errors.New("recovery id must be 27 or 28")
	errScalarR         = errors.New("r is zero or not below the curve order")
	errScalarS         = errors.New("s is zero, not below the curve order or in the upper half")
	errZeroSigner      = errors.New("signature recovers to the zero address")
)

// RecoverSigner returns the address that produced sig over hash. High-s
// signatures are rejected so each message has one accepted encoding.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, errSignatureLength
	}
	v := sig[64]
	if v != 27 && v != 28 {
		return common.Address{}, errRecoveryID
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return common.Address{}, errScalarR
	}
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsZero() || s.IsOverHalfOrder() {
		return common.Address{}, errScalarS
	}

	// compact form is v ‖ r ‖ s with v = 27 + recid for uncompressed keys
	compact := make([]byte, SignatureLength)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return common.Address{}, err
	}
	addr := pubkeyToAddress(pub)
	if addr == (common.Address{}) {
		return common.Address{}, errZeroSigner
	}
	return addr, nil
}

func pubkeyToAddress(pub *secp256k1.PublicKey) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return common.BytesToAddress(h.Sum(nil)[12:])
}

// authorize compares the signer of hash with the owner. Any malformed
// signature is a mismatch, never an error.
func (a *Account) authorize(hash common.Hash, sig []byte) types.Magic {
	signer, err := RecoverSigner(hash, sig)
	if err != nil || signer != a.Owner() {
		return types.MagicRejected
	}
	return types.MagicSuccess
}
