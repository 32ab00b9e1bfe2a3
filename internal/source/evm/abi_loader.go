package evm

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Names used from the DailyGM contract.
const (
	EventGMSent     = "GMSent"
	MethodStreak    = "streak"
	MethodLastGM    = "lastGM"
	GMSentSignature = "GMSent(address,address,uint256)"
)

// DailyGMABI is the subset of the contract interface the tracker consumes
// plus the two write methods, kept for callers building transactions.
const DailyGMABI = `[
	{"type":"event","name":"GMSent","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"recipient","type":"address","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"streak","stateMutability":"view",
		"inputs":[{"name":"user","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lastGM","stateMutability":"view",
		"inputs":[{"name":"user","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"gm","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"gmTo","stateMutability":"nonpayable",
		"inputs":[{"name":"recipient","type":"address"}],"outputs":[]}
]`

// ParseABI parses the built-in DailyGM ABI.
func ParseABI() (*abi.ABI, error) {
	a, err := abi.JSON(strings.NewReader(DailyGMABI))
	if err != nil {
		return nil, fmt.Errorf("parse built-in abi: %w", err)
	}
	return &a, nil
}

// LoadABI reads a contract ABI from a JSON file, falling back to the
// built-in ABI when path is empty. The file must declare GMSent, streak and
// lastGM with compatible shapes.
func LoadABI(path string) (*abi.ABI, error) {
	if path == "" {
		return ParseABI()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abi %s: %w", path, err)
	}
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse abi %s: %w", path, err)
	}
	if err := checkABI(&a); err != nil {
		return nil, fmt.Errorf("abi %s: %w", path, err)
	}
	return &a, nil
}

func checkABI(a *abi.ABI) error {
	ev, ok := a.Events[EventGMSent]
	if !ok {
		return fmt.Errorf("event %s not declared", EventGMSent)
	}
	if ev.Sig != GMSentSignature {
		return fmt.Errorf("event signature %s, want %s", ev.Sig, GMSentSignature)
	}
	indexed, _ := splitIndexed(ev.Inputs)
	if len(indexed) != 2 {
		return fmt.Errorf("event %s needs indexed sender and recipient", EventGMSent)
	}
	for _, m := range []string{MethodStreak, MethodLastGM} {
		if _, ok := a.Methods[m]; !ok {
			return fmt.Errorf("method %s not declared", m)
		}
	}
	return nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
