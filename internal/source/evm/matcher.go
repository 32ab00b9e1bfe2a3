package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PumpMatcher filters and decodes GMSent logs emitted by one contract.
type PumpMatcher struct {
	contract common.Address
	topic0   common.Hash
	event    abi.Event
}

// NewPumpMatcher builds a matcher for the contract's GMSent event.
func NewPumpMatcher(contract common.Address, contractABI *abi.ABI) (*PumpMatcher, error) {
	if contractABI == nil {
		a, err := ParseABI()
		if err != nil {
			return nil, err
		}
		contractABI = a
	}
	ev, ok := contractABI.Events[EventGMSent]
	if !ok {
		return nil, fmt.Errorf("abi has no %s event", EventGMSent)
	}
	return &PumpMatcher{
		contract: contract,
		topic0:   ev.ID,
		event:    ev,
	}, nil
}

// Topic returns the GMSent topic0 hash.
func (m *PumpMatcher) Topic() common.Hash { return m.topic0 }

// Contract returns the contract address logs must come from.
func (m *PumpMatcher) Contract() common.Address { return m.contract }

// Topics builds an eth_getLogs topic filter selecting GMSent events sent to
// recipient from any sender.
func (m *PumpMatcher) Topics(recipient common.Address) [][]common.Hash {
	return [][]common.Hash{{m.topic0}, nil, {addressTopic(recipient)}}
}

// Match decodes lg if it is a GMSent from the contract. Removed logs never match.
func (m *PumpMatcher) Match(lg types.Log) (*Pump, bool, error) {
	if lg.Removed || lg.Address != m.contract {
		return nil, false, nil
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != m.topic0 {
		return nil, false, nil
	}

	indexed, nonIndexed := splitIndexed(m.event.Inputs)
	if len(lg.Topics)-1 != len(indexed) {
		return nil, false, fmt.Errorf("gmsent log %s: %d indexed topics, want %d", lg.TxHash.Hex(), len(lg.Topics)-1, len(indexed))
	}

	args := map[string]any{}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, false, fmt.Errorf("parse topics: %w", err)
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return nil, false, fmt.Errorf("unpack data: %w", err)
	}

	p := &Pump{
		Height:   lg.BlockNumber,
		TxHash:   lg.TxHash.Hex(),
		LogIndex: lg.Index,
	}
	if v, ok := args["sender"].(common.Address); ok {
		p.Sender = v
	}
	if v, ok := args["recipient"].(common.Address); ok {
		p.Recipient = v
	}
	if v, ok := args["timestamp"].(*big.Int); ok && v.IsUint64() {
		p.Timestamp = v.Uint64()
	}
	return p, true, nil
}

// Addressed reports whether lg is a live GMSent from the contract whose
// recipient topic is recipient. Only topics are read; the data is not decoded.
func (m *PumpMatcher) Addressed(lg types.Log, recipient common.Address) bool {
	if lg.Removed || lg.Address != m.contract || len(lg.Topics) < 3 {
		return false
	}
	return lg.Topics[0] == m.topic0 && lg.Topics[2] == addressTopic(recipient)
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}
