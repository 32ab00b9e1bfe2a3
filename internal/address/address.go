// Package address normalizes account identifiers used as cache and map keys.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalid is returned for strings that are not 20-byte hex addresses.
var ErrInvalid = errors.New("invalid address")

// Key is a lower-cased hex address. Two spellings of the same account that
// differ only in case produce the same Key.
type Key string

// Parse validates raw and returns its normalized Key.
func Parse(raw string) (Key, error) {
	s := strings.TrimSpace(raw)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return Key(strings.ToLower(s)), nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Key {
	k, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) String() string { return string(k) }

// Address returns the go-ethereum form of the key.
func (k Key) Address() common.Address { return common.HexToAddress(string(k)) }

// Short renders 0x1234...abcd for display.
func (k Key) Short() string {
	s := string(k)
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
