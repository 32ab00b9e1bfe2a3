package evm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Chain is the identifier for EVM chains.
const Chain = "evm"

var (
	// ErrWindowQuery marks a failed eth_getLogs window; the scan is aborted
	// and nothing is persisted for it.
	ErrWindowQuery = errors.New("window query failed")
	// ErrHeadQuery marks a failed chain height lookup.
	ErrHeadQuery = errors.New("block height query failed")
)

// Window is an inclusive block range queried in one eth_getLogs call.
type Window struct {
	From uint64
	To   uint64
}

// Pump is a decoded GMSent event.
type Pump struct {
	Sender    common.Address
	Recipient common.Address
	Timestamp uint64
	Height    uint64
	TxHash    string
	LogIndex  uint
}
