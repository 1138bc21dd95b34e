package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"basetip/creator"
)

var (
	testContract = common.HexToAddress("0x602306cE966CB42FA39f6463cb401e8aF1080eBD")
	testCreator  = common.HexToAddress("0x1111567890123456789012345678901234567890")
)

type fakeClient struct {
	call      func(ctx context.Context, msg ethereum.CallMsg, blk *big.Int) ([]byte, error)
	block     func(ctx context.Context) (uint64, error)
	filter    func(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	subscribe func(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
	header    func(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

func (c *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blk *big.Int) ([]byte, error) {
	return c.call(ctx, msg, blk)
}

func (c *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.block(ctx)
}

func (c *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return c.filter(ctx, q)
}

func (c *fakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error) {
	return c.subscribe(ctx, q, ch)
}

func (c *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return c.header(ctx, number)
}

func packCreatorTuple(t *testing.T, name string, tips int64, supporters int64) []byte {
	t.Helper()
	out, err := registryABI.Methods["getCreator"].Outputs.Pack(
		testCreator, name, "bio text", "https://example.test/a.svg", true,
		big.NewInt(tips), big.NewInt(supporters))
	require.NoError(t, err)
	return out
}

func TestFetchCreatorDecodes(t *testing.T) {
	client := &fakeClient{
		call: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			require.Equal(t, testContract, *msg.To)
			return packCreatorTuple(t, "Alice Chen", 2_500_000, 3), nil
		},
	}
	f := NewFetcher(client, testContract, WithSleep(func(context.Context, time.Duration) error { return nil }))

	rec, err := f.FetchCreator(context.Background(), testCreator)
	require.NoError(t, err)
	require.Equal(t, "Alice Chen", rec.Name)
	require.Equal(t, "alice-chen", rec.Slug)
	require.Equal(t, 2.5, rec.TipsReceived)
	require.Zero(t, rec.TipsReceivedRaw.Cmp(big.NewInt(2_500_000)))
	require.Equal(t, 3, rec.Supporters)
	require.Equal(t, creator.SourceLive, rec.Source)
	require.Equal(t, testCreator, rec.PayoutAddress)
}

func TestFetchAllBatchesViaMulticall(t *testing.T) {
	second := common.HexToAddress("0x2222567890123456789012345678901234567890")

	addressList, err := registryABI.Methods["getAllCreators"].Outputs.Pack(
		[]common.Address{testCreator, second})
	require.NoError(t, err)

	client := &fakeClient{}
	client.call = func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		switch *msg.To {
		case testContract:
			return addressList, nil
		case DefaultMulticallAddress:
			vals, err := multicallABI.Methods["aggregate3"].Inputs.Unpack(msg.Data[4:])
			require.NoError(t, err)
			calls := *abi.ConvertType(vals[0], new([]multicallCall)).(*[]multicallCall)
			require.Len(t, calls, 2)
			require.Equal(t, testContract, calls[0].Target)
			require.True(t, calls[0].AllowFailure)

			return multicallABI.Methods["aggregate3"].Outputs.Pack([]multicallResult{
				{Success: true, ReturnData: packCreatorTuple(t, "Alice Chen", 1_000_000, 1)},
				{Success: false},
			})
		default:
			return nil, fmt.Errorf("unexpected call target %s", msg.To.Hex())
		}
	}
	f := NewFetcher(client, testContract)

	records, err := f.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Alice Chen", records[0].Name)
	require.Equal(t, 1.0, records[0].TipsReceived)
}

func TestRetryTransientThenSuccess(t *testing.T) {
	attempts := 0
	client := &fakeClient{
		call: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection reset")
			}
			return packCreatorTuple(t, "Alice Chen", 0, 0), nil
		},
	}
	var delays []time.Duration
	f := NewFetcher(client, testContract, WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	_, err := f.FetchCreator(context.Background(), testCreator)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	client := &fakeClient{
		call: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
			attempts++
			return nil, errors.New("connection reset")
		},
	}
	f := NewFetcher(client, testContract, WithSleep(func(context.Context, time.Duration) error { return nil }))

	_, err := f.FetchCreator(context.Background(), testCreator)
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestUnavailableFailsFast(t *testing.T) {
	attempts := 0
	client := &fakeClient{
		call: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
			attempts++
			return nil, errors.New("503 Service Unavailable")
		},
	}
	slept := 0
	f := NewFetcher(client, testContract, WithSleep(func(context.Context, time.Duration) error {
		slept++
		return nil
	}))

	_, err := f.FetchCreator(context.Background(), testCreator)
	require.Error(t, err)
	require.True(t, IsUnavailable(err))
	require.Equal(t, 1, attempts)
	require.Zero(t, slept)
}

func TestNoClientIsFatal(t *testing.T) {
	f := NewFetcher(nil, testContract)
	_, err := f.FetchCreator(context.Background(), testCreator)
	require.ErrorIs(t, err, ErrNoClient)
	_, err = f.ScanRegistrations(context.Background())
	require.ErrorIs(t, err, ErrNoClient)
}

func registrationLog(t *testing.T, addr common.Address, name string, block uint64, index uint) gethtypes.Log {
	t.Helper()
	data, err := registryABI.Events["CreatorRegistered"].Inputs.NonIndexed().Pack(name)
	require.NoError(t, err)
	return gethtypes.Log{
		Address:     testContract,
		Topics:      []common.Hash{creatorRegisteredTopic, common.BytesToHash(addr.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(index + 1)}),
		Index:       index,
	}
}

func TestScanRegistrations(t *testing.T) {
	client := &fakeClient{
		block: func(context.Context) (uint64, error) { return 20_000, nil },
		filter: func(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
			require.Equal(t, uint64(10_000), q.FromBlock.Uint64())
			require.Equal(t, uint64(20_000), q.ToBlock.Uint64())
			require.Equal(t, []common.Address{testContract}, q.Addresses)
			return []gethtypes.Log{
				registrationLog(t, testCreator, "Alice Chen", 19_990, 0),
			}, nil
		},
	}
	f := NewFetcher(client, testContract)

	records, err := f.ScanRegistrations(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, testCreator, rec.Address)
	require.Equal(t, "alice-chen", rec.Slug)
	require.Equal(t, "Creator on Base", rec.Bio)
	require.Contains(t, rec.Avatar, "Alice")
	require.True(t, rec.Active)
	require.Zero(t, rec.TipsReceived)
	require.Equal(t, creator.SourceEvent, rec.Source)
}

func TestScanWindowClampsToGenesis(t *testing.T) {
	client := &fakeClient{
		block: func(context.Context) (uint64, error) { return 5_000, nil },
		filter: func(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
			require.Zero(t, q.FromBlock.Uint64())
			return nil, nil
		},
	}
	f := NewFetcher(client, testContract)
	_, err := f.ScanRegistrations(context.Background())
	require.NoError(t, err)
}

func TestTipsFrom(t *testing.T) {
	donor := common.HexToAddress("0xd0d0567890123456789012345678901234567890")
	recipient := common.HexToAddress("0x2222567890123456789012345678901234567890")

	data, err := registryABI.Events["TipSent"].Inputs.NonIndexed().Pack(big.NewInt(5_000_000), "thanks!")
	require.NoError(t, err)

	client := &fakeClient{
		block: func(context.Context) (uint64, error) { return 20_000, nil },
		filter: func(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
			require.Equal(t, common.BytesToHash(donor.Bytes()), q.Topics[1][0])
			return []gethtypes.Log{{
				Topics: []common.Hash{
					tipSentTopic,
					common.BytesToHash(donor.Bytes()),
					common.BytesToHash(recipient.Bytes()),
				},
				Data:        data,
				BlockNumber: 19_500,
			}}, nil
		},
	}
	f := NewFetcher(client, testContract)

	events, err := f.TipsFrom(context.Background(), donor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, donor, events[0].From)
	require.Equal(t, recipient, events[0].To)
	require.Zero(t, events[0].Amount.Cmp(big.NewInt(5_000_000)))
	require.Equal(t, "thanks!", events[0].Memo)
	require.Equal(t, uint64(19_500), events[0].Block)
}
