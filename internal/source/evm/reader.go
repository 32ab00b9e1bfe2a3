package evm

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Reader serves the contract's read-only accessors.
type Reader struct {
	caller   ethereum.ContractCaller
	contract common.Address
	abi      *abi.ABI
}

// NewReader builds a Reader; a nil contractABI selects the built-in ABI.
func NewReader(caller ethereum.ContractCaller, contract common.Address, contractABI *abi.ABI) (*Reader, error) {
	if contractABI == nil {
		a, err := ParseABI()
		if err != nil {
			return nil, err
		}
		contractABI = a
	}
	return &Reader{caller: caller, contract: contract, abi: contractABI}, nil
}

// Streak returns how many actions user has performed.
func (r *Reader) Streak(ctx context.Context, user common.Address) (uint64, error) {
	v, err := r.callUint(ctx, MethodStreak, user)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// LastAction returns the last action timestamp in seconds, 0 meaning never.
func (r *Reader) LastAction(ctx context.Context, user common.Address) (int64, error) {
	v, err := r.callUint(ctx, MethodLastGM, user)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func (r *Reader) callUint(ctx context.Context, method string, user common.Address) (uint64, error) {
	input, err := r.abi.Pack(method, user)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", method, err)
	}
	to := r.contract
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := r.abi.Unpack(method, out)
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("%s: %d return values", method, len(vals))
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected return type %T", method, vals[0])
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s: value %s overflows uint64", method, n)
	}
	return n.Uint64(), nil
}
