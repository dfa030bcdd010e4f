package decoder

import (
	"bytes"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes data with the legacy Keccak used by the EVM.
func Keccak256(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// EventTopic returns topic0 for an event signature.
func EventTopic(signature string) common.Hash {
	return Keccak256([]byte(signature))
}

// Selector returns the 4-byte function selector for a signature.
func Selector(signature string) []byte {
	return Keccak256([]byte(signature)).Bytes()[:4]
}

var (
	TransferTopic = EventTopic("Transfer(address,address,uint256)")

	SelectorName        = Selector("name()")
	SelectorSymbol      = Selector("symbol()")
	SelectorDecimals    = Selector("decimals()")
	SelectorTotalSupply = Selector("totalSupply()")
)

const word = 32

// ABIUint decodes a single uint256 return value.
func ABIUint(data []byte) (*big.Int, error) {
	if len(data) < word {
		return nil, decodeErr("abi", "uint256", "want %d bytes, got %d", word, len(data))
	}
	return new(big.Int).SetBytes(data[:word]), nil
}

// ABIUint8 decodes a uint8 return value such as decimals().
func ABIUint8(data []byte) (uint8, error) {
	v, err := ABIUint(data)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, decodeErr("abi", "uint8", "value %s out of range", v)
	}
	return uint8(v.Uint64()), nil
}

// ABIString decodes a dynamic string return value. Older tokens return
// bytes32 instead; those are accepted and trimmed of trailing zeros.
func ABIString(data []byte) (string, error) {
	if len(data) == word {
		return cleanString(bytes.TrimRight(data, "\x00")), nil
	}
	if len(data) < 2*word {
		return "", decodeErr("abi", "string", "want at least %d bytes, got %d", 2*word, len(data))
	}
	// Bounds are compared by subtraction so a hostile offset or length
	// cannot wrap around.
	size := uint64(len(data))
	offset := new(big.Int).SetBytes(data[:word])
	if !offset.IsUint64() || offset.Uint64() > size-word {
		return "", decodeErr("abi", "string", "offset %s out of bounds", offset)
	}
	start := offset.Uint64()
	length := new(big.Int).SetBytes(data[start : start+word])
	if !length.IsUint64() || length.Uint64() > size-start-word {
		return "", decodeErr("abi", "string", "length %s out of bounds", length)
	}
	body := data[start+word : start+word+length.Uint64()]
	return cleanString(body), nil
}

func cleanString(b []byte) string {
	s := string(b)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}
