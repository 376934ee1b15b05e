package common

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var ErrInvalidID = errors.New("invalid business id, expect decimal uint256")

func HexStrToByteSlice(hexStr string) []byte {
	return ethcommon.Hex2Bytes(Trim0xPrefix(hexStr))
}

// Trim 0x or 0X prefix off the string.
func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

func Prepend0xPrefix(str string) string {
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		return str
	}
	return "0x" + str
}

// ParseID parses a business id (decimal uint256, as emitted by the contract).
func ParseID(id string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(id), 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return nil, ErrInvalidID
	}
	return n, nil
}

// IDToBytes returns the minimal big-endian encoding of a business id.
// Zero encodes as a single 0x00 byte so the result is never empty.
func IDToBytes(id string) ([]byte, error) {
	n, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	if n.Sign() == 0 {
		return []byte{0}, nil
	}
	return n.Bytes(), nil
}

// BytesToID is the inverse of IDToBytes.
func BytesToID(b []byte) string {
	return new(big.Int).SetBytes(b).String()
}

func RandBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil
	}
	return b
}

// SameAddress compares two ledger addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(Prepend0xPrefix(a), Prepend0xPrefix(b))
}
