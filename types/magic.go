package types

import (
	"encoding/hex"
	"fmt"
)

// Magic is the 4-byte outcome of account validation
type Magic [4]byte

var (
	// MagicSuccess is the selector of validateTransaction(bytes32,bytes32,Transaction)
	MagicSuccess = Magic{0x20, 0x2b, 0xcc, 0xe7}
	// MagicRejected is returned for a signature that does not belong to the owner
	MagicRejected = Magic{}
)

func (m Magic) IsSuccess() bool {
	return m == MagicSuccess
}

func (m Magic) String() string {
	return "0x" + hex.EncodeToString(m[:])
}

func (m Magic) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Magic) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid magic %q: %w", text, err)
	}
	if len(b) != len(m) {
		return fmt.Errorf("invalid magic length %d", len(b))
	}
	copy(m[:], b)
	return nil
}
