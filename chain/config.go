// Package chain holds the immutable chain configuration and the mutable
// on-chain system configuration the derivation pipeline tracks across L1
// blocks.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SystemConfig is the portion of ChainConfig that the system-config
// tracker (derive.ApplySystemConfigUpdates) is allowed to mutate while
// processing L1 receipts. It is seeded from the L2 head's bootstrap
// setL1BlockValues call, not from genesis defaults.
type SystemConfig struct {
	BatchSender   common.Address
	L1FeeOverhead uint256.Int
	L1FeeScalar   uint256.Int
	GasLimit      uint64
}

// ChainConfig is immutable for the duration of a derivation run, except
// for the embedded SystemConfig.
type ChainConfig struct {
	SystemConfig

	L2BlockTime       uint64
	ChannelTimeout    uint64
	MaxChannelSize    uint64
	MaxSequencerDrift uint64
	SeqWindowSize     uint64
	L1ChainID         *big.Int
	L2ChainID         *big.Int
	MaxFrameLen       uint64

	BatchInbox           common.Address
	DepositContract      common.Address
	SystemConfigContract common.Address
}

// TransactionDepositedTopic is the first topic of the
// TransactionDeposited(address,address,uint256,bytes) event.
var TransactionDepositedTopic = common.HexToHash("0xb3813568d9991fc951961fcb4c784893574240a28925604d09fc577c55bb7c32")

// ConfigUpdateTopic is the first topic of the
// ConfigUpdate(uint256,uint8,bytes) event.
var ConfigUpdateTopic = common.HexToHash("0x1d2b0bda21d56b8bd12d4f94ebacffdfb35f5e226f84b461103bb8beab6353be")

// Optimism returns the canonical mainnet-shaped chain configuration. The
// SystemConfig fields are placeholders: the derive machine overwrites them
// during bootstrap (see derive.DeriveMachine.Bootstrap), mirroring
// ChainConfig::optimism() in the Rust implementation this is ported from.
func Optimism() ChainConfig {
	return ChainConfig{
		L2BlockTime:          2,
		ChannelTimeout:       300,
		MaxChannelSize:       100_000_000,
		MaxSequencerDrift:    600,
		SeqWindowSize:        3600,
		L1ChainID:            big.NewInt(1),
		L2ChainID:            big.NewInt(10),
		MaxFrameLen:          100_000,
		BatchInbox:           common.HexToAddress("0xFF00000000000000000000000000000000000010"),
		DepositContract:      common.HexToAddress("0xbEb5Fc579115071764c7423A4f12eDde41f106Ed"),
		SystemConfigContract: common.HexToAddress("0x229047fed2591dbec1eF1118d64F7aF3dB9EB290"),
	}
}

// ForTesting returns a configuration with a tiny sequencer window and
// channel timeout, suitable for exercising edge cases in unit tests
// without requiring hundreds of synthetic L1 blocks.
func ForTesting() ChainConfig {
	cfg := Optimism()
	cfg.SeqWindowSize = 10
	cfg.ChannelTimeout = 5
	cfg.MaxChannelSize = 10_000
	cfg.MaxSequencerDrift = 20
	cfg.MaxFrameLen = 1_000
	cfg.L2ChainID = big.NewInt(901)
	return cfg
}
