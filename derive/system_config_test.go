package derive

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/btcleet/op-derive/chain"
)

func buildConfigUpdateLog(t *testing.T, updateType configUpdateType, valueWord [32]byte) *types.Log {
	t.Helper()
	var data []byte
	data = append(data, common.LeftPadBytes(big.NewInt(32), 32)...) // offset
	data = append(data, common.LeftPadBytes(big.NewInt(32), 32)...) // length
	data = append(data, valueWord[:]...)                            // value
	return &types.Log{
		Topics: []common.Hash{
			chain.ConfigUpdateTopic,
			{}, // version 0
			common.BigToHash(big.NewInt(int64(updateType))),
		},
		Data: data,
	}
}

func TestApplySystemConfigUpdatesBatcherAddress(t *testing.T) {
	cfg := chain.ForTesting()
	newBatcher := common.HexToAddress("0xcccc000000000000000000000000000000cccc")
	lg := buildConfigUpdateLog(t, configUpdateBatcherAddress, common.BytesToHash(newBatcher.Bytes()))
	lg.Address = cfg.SystemConfigContract

	var bloom types.Bloom
	bloom.Add(cfg.SystemConfigContract.Bytes())
	bloom.Add(chain.ConfigUpdateTopic.Bytes())

	require.NoError(t, ApplySystemConfigUpdates(&cfg, bloom, types.Receipts{{Logs: []*types.Log{lg}}}))
	require.Equal(t, newBatcher, cfg.BatchSender)
}

func TestApplySystemConfigUpdatesFeeScalar(t *testing.T) {
	cfg := chain.ForTesting()
	var valueWord [32]byte
	valueWord[31] = 7
	lg := buildConfigUpdateLog(t, configUpdateFeeScalar, valueWord)
	lg.Address = cfg.SystemConfigContract

	var bloom types.Bloom
	bloom.Add(cfg.SystemConfigContract.Bytes())
	bloom.Add(chain.ConfigUpdateTopic.Bytes())

	require.NoError(t, ApplySystemConfigUpdates(&cfg, bloom, types.Receipts{{Logs: []*types.Log{lg}}}))
	require.EqualValues(t, 7, cfg.L1FeeScalar.Uint64())
}

func TestApplySystemConfigUpdatesUnknownTypeIsConfigurationError(t *testing.T) {
	cfg := chain.ForTesting()
	lg := buildConfigUpdateLog(t, configUpdateType(99), [32]byte{})
	lg.Address = cfg.SystemConfigContract

	var bloom types.Bloom
	bloom.Add(cfg.SystemConfigContract.Bytes())
	bloom.Add(chain.ConfigUpdateTopic.Bytes())

	err := ApplySystemConfigUpdates(&cfg, bloom, types.Receipts{{Logs: []*types.Log{lg}}})
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, Configuration, derr.Kind)
}

func TestApplySystemConfigUpdatesBloomShortCircuits(t *testing.T) {
	cfg := chain.ForTesting()
	var bloom types.Bloom // empty: cannot contain the ConfigUpdate topic
	lg := buildConfigUpdateLog(t, configUpdateGasLimit, [32]byte{31: 1})
	lg.Address = cfg.SystemConfigContract

	require.NoError(t, ApplySystemConfigUpdates(&cfg, bloom, types.Receipts{{Logs: []*types.Log{lg}}}))
	require.EqualValues(t, 0, cfg.GasLimit) // unmodified, since the scan never ran
}
