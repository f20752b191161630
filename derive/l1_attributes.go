package derive

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// L1InfoDepositerAddress and L1BlockAddress are the fixed from/to of the
// L1-attributes deposit transaction (spec.md §4.8), reused verbatim from
// the real predeploy addresses since this pipeline targets the same
// chain.
var (
	L1InfoDepositerAddress = common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddead0001")
	L1BlockAddress         = common.HexToAddress("0x4200000000000000000000000000000000000015")
)

const (
	l1AttributesGasLimit  = 1_000_000
	l1InfoSourceHashDomain = 0x01
)

const setL1BlockValuesSignature = "setL1BlockValues(uint64,uint64,uint256,bytes32,uint64,bytes32,uint256,uint256)"

var setL1BlockValuesSelector = crypto.Keccak256([]byte(setL1BlockValuesSignature))[:4]

var setL1BlockValuesArgs = abi.Arguments{
	{Type: mustType("uint64")},
	{Type: mustType("uint64")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint64")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// L1BlockValues is the decoded argument set of a setL1BlockValues call
// (spec.md §4.8/Bootstrap).
type L1BlockValues struct {
	Number         uint64
	Time           uint64
	BaseFee        *big.Int
	BlockHash      common.Hash
	SequenceNumber uint64
	BatcherHash    common.Hash
	L1FeeOverhead  *big.Int
	L1FeeScalar    *big.Int
}

// EncodeSetL1BlockValues ABI-encodes a setL1BlockValues call, prefixed by
// its 4-byte selector.
func EncodeSetL1BlockValues(v L1BlockValues) ([]byte, error) {
	packed, err := setL1BlockValuesArgs.Pack(
		v.Number, v.Time, v.BaseFee, [32]byte(v.BlockHash), v.SequenceNumber, [32]byte(v.BatcherHash), v.L1FeeOverhead, v.L1FeeScalar,
	)
	if err != nil {
		return nil, NewCriticalf("failed to ABI-encode setL1BlockValues: %w", err)
	}
	return append(append([]byte{}, setL1BlockValuesSelector...), packed...), nil
}

// DecodeSetL1BlockValues reverses EncodeSetL1BlockValues, used during
// bootstrap to read the L2 head's first transaction (spec.md §4.7).
func DecodeSetL1BlockValues(data []byte) (L1BlockValues, error) {
	if len(data) < 4 {
		return L1BlockValues{}, NewCriticalf("setL1BlockValues calldata too short: %d bytes", len(data))
	}
	for i, b := range setL1BlockValuesSelector {
		if data[i] != b {
			return L1BlockValues{}, NewCriticalf("calldata is not a setL1BlockValues call: selector mismatch")
		}
	}
	values, err := setL1BlockValuesArgs.Unpack(data[4:])
	if err != nil {
		return L1BlockValues{}, NewCriticalf("failed to ABI-decode setL1BlockValues: %w", err)
	}
	if len(values) != 8 {
		return L1BlockValues{}, NewCriticalf("setL1BlockValues decoded %d values, want 8", len(values))
	}
	return L1BlockValues{
		Number:         values[0].(uint64),
		Time:           values[1].(uint64),
		BaseFee:        values[2].(*big.Int),
		BlockHash:      values[3].([32]byte),
		SequenceNumber: values[4].(uint64),
		BatcherHash:    values[5].([32]byte),
		L1FeeOverhead:  values[6].(*big.Int),
		L1FeeScalar:    values[7].(*big.Int),
	}, nil
}

// BuildL1AttributesTx synthesizes the system transaction prepended to
// every L2 block, per spec.md §4.8: a deposit transaction encoding the
// current epoch's L1 attributes via setL1BlockValues.
func BuildL1AttributesTx(epoch Epoch, seqNumber uint64, batcherAddr common.Address, feeOverhead, feeScalar uint256.Int) (*types.Transaction, error) {
	batcherHash := common.BytesToHash(batcherAddr.Bytes())
	calldata, err := EncodeSetL1BlockValues(L1BlockValues{
		Number:         epoch.Number,
		Time:           epoch.Timestamp,
		BaseFee:        epoch.BaseFee.ToBig(),
		BlockHash:      epoch.Hash,
		SequenceNumber: seqNumber,
		BatcherHash:    batcherHash,
		L1FeeOverhead:  feeOverhead.ToBig(),
		L1FeeScalar:    feeScalar.ToBig(),
	})
	if err != nil {
		return nil, err
	}

	var seqNumBuf [32]byte
	binary.BigEndian.PutUint64(seqNumBuf[24:], seqNumber)
	sourceHash := depositSourceHash(l1InfoSourceHashDomain, epoch.Hash[:], seqNumBuf[:])

	tx := types.NewTx(&types.DepositTx{
		SourceHash: sourceHash,
		From:       L1InfoDepositerAddress,
		To:         &L1BlockAddress,
		Mint:       nil,
		Value:      common.Big0,
		Gas:        l1AttributesGasLimit,
		IsSystemTx: false,
		Data:       calldata,
	})
	return tx, nil
}
