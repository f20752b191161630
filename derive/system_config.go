package derive

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/btcleet/op-derive/chain"
)

// configUpdateType is the second indexed topic of ConfigUpdate, selecting
// which SystemConfig field the log's data updates (spec.md §4.3).
type configUpdateType uint8

const (
	configUpdateBatcherAddress configUpdateType = 0
	configUpdateFeeOverhead    configUpdateType = 1
	configUpdateFeeScalar      configUpdateType = 2
	configUpdateGasLimit       configUpdateType = 3
)

// ApplySystemConfigUpdates scans receipts for ConfigUpdate logs at cfg's
// system-config contract and applies each in receipt order, mutating
// cfg.SystemConfig in place. An unrecognized update type is a
// Configuration-class fatal error (spec.md §4.3), not a drop: it indicates
// the pipeline doesn't understand a chain rule it's committing to.
func ApplySystemConfigUpdates(cfg *chain.ChainConfig, bloom types.Bloom, receipts types.Receipts) error {
	if !chain.CanContainLog(bloom, cfg.SystemConfigContract, chain.ConfigUpdateTopic) {
		return nil
	}
	for _, receipt := range receipts {
		for _, lg := range receipt.Logs {
			if lg.Address != cfg.SystemConfigContract {
				continue
			}
			if len(lg.Topics) == 0 || lg.Topics[0] != chain.ConfigUpdateTopic {
				continue
			}
			if err := applyConfigUpdateLog(cfg, lg); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyConfigUpdateLog(cfg *chain.ChainConfig, lg *types.Log) error {
	if len(lg.Topics) != 3 {
		return NewCriticalf("ConfigUpdate log has %d topics, want 3", len(lg.Topics))
	}
	version := new(big.Int).SetBytes(lg.Topics[1].Bytes())
	if version.Sign() != 0 {
		return NewConfigErrorf("ConfigUpdate version %s is not 0", version)
	}
	updateType := configUpdateType(new(big.Int).SetBytes(lg.Topics[2].Bytes()).Uint64())

	value, err := decodeConfigUpdateValue(lg.Data)
	if err != nil {
		return err
	}

	switch updateType {
	case configUpdateBatcherAddress:
		cfg.BatchSender = common.BytesToAddress(value)
	case configUpdateFeeOverhead:
		var v uint256.Int
		v.SetBytes(value)
		cfg.L1FeeOverhead = v
	case configUpdateFeeScalar:
		var v uint256.Int
		v.SetBytes(value)
		cfg.L1FeeScalar = v
	case configUpdateGasLimit:
		cfg.GasLimit = new(big.Int).SetBytes(value).Uint64()
	default:
		return NewConfigErrorf("unknown ConfigUpdate type %d", updateType)
	}
	return nil
}

// decodeConfigUpdateValue unwraps the ABI-encoded dynamic bytes payload in
// ConfigUpdate's data field down to its final 32-byte (or address-sized)
// value word. The contract ABI-encodes `bytes` as (offset, length,
// padded-data); every update type in scope fits in the first data word.
func decodeConfigUpdateValue(data []byte) ([]byte, error) {
	const wordLen = 32
	if len(data) < wordLen*3 {
		return nil, NewCriticalf("ConfigUpdate data too short: %d bytes", len(data))
	}
	// data[0:32] = offset to the bytes payload, data[32:64] = its length,
	// data[64:96] = the first (and for our update types, only) value word.
	return data[64:96], nil
}
