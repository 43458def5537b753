package funds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/raisefi/service/chain"
)

var (
	ownerA  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	visitor = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fakeReader struct {
	addrs      []common.Address
	listErr    error
	details    map[common.Address]*chain.FundDetails
	detailErrs map[common.Address]error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeReader) ActiveFunds(ctx context.Context) ([]common.Address, error) {
	return f.addrs, f.listErr
}

func (f *fakeReader) FundDetails(ctx context.Context, fund common.Address) (*chain.FundDetails, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		cur := f.maxInflight.Load()
		if n <= cur || f.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	if err := f.detailErrs[fund]; err != nil {
		return nil, err
	}
	d, ok := f.details[fund]
	if !ok {
		return nil, fmt.Errorf("no details for %s", fund.Hex())
	}
	return d, nil
}

func addr(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func details(fund, owner common.Address, target, raised int64) *chain.FundDetails {
	return &chain.FundDetails{
		Address:      fund,
		Owner:        owner,
		TargetAmount: big.NewInt(target),
		Deadline:     big.NewInt(1_700_000_000),
		RaisedAmount: big.NewInt(raised),
	}
}

func newReader(n int, owner common.Address) *fakeReader {
	r := &fakeReader{details: map[common.Address]*chain.FundDetails{}, detailErrs: map[common.Address]error{}}
	for i := 0; i < n; i++ {
		a := addr(i)
		r.addrs = append(r.addrs, a)
		r.details[a] = details(a, owner, 100, 40)
	}
	return r
}

func newTestService(r Reader, concurrency int) *Service {
	return NewService(r, concurrency, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListing_OneCardPerAddressInOrder(t *testing.T) {
	r := newReader(5, ownerA)
	s := newTestService(r, 2)

	l := s.Listing(context.Background(), ownerA, "/donate")

	require.False(t, l.Loading)
	require.Len(t, l.Cards, 5)
	for i, c := range l.Cards {
		assert.Equal(t, addr(i), c.Address)
		assert.False(t, c.Loading())
		assert.True(t, c.Visible)
		assert.True(t, c.ShowDonate)
		assert.Equal(t, "/my-fundraise/"+addr(i).Hex(), c.ShareURL)
	}
	assert.LessOrEqual(t, r.maxInflight.Load(), int32(2))
}

func TestListing_ListFailureLooksLikeLoading(t *testing.T) {
	r := &fakeReader{listErr: errors.New("rpc unavailable")}
	s := newTestService(r, 4)

	l := s.Listing(context.Background(), ownerA, "/donate")

	assert.True(t, l.Loading)
	assert.Empty(t, l.Cards)
	assert.Empty(t, l.Visible())
}

func TestListing_EmptyFactory(t *testing.T) {
	s := newTestService(&fakeReader{addrs: []common.Address{}}, 4)

	l := s.Listing(context.Background(), ownerA, "/donate")

	assert.False(t, l.Loading)
	assert.Empty(t, l.Cards)
}

func TestListing_DetailFailureLeavesCardLoading(t *testing.T) {
	r := newReader(3, ownerA)
	r.detailErrs[addr(1)] = errors.New("execution reverted")
	s := newTestService(r, 4)

	l := s.Listing(context.Background(), ownerA, "/donate")

	require.Len(t, l.Cards, 3)
	assert.True(t, l.Cards[1].Loading())
	assert.False(t, l.Cards[1].Visible)
	assert.Len(t, l.Visible(), 2)
}

func TestListing_HiddenFromNonOwner(t *testing.T) {
	r := newReader(1, ownerA)
	s := newTestService(r, 1)

	l := s.Listing(context.Background(), visitor, "/donate")

	require.Len(t, l.Cards, 1)
	assert.False(t, l.Cards[0].Visible)
	assert.Empty(t, l.Visible())
}

func TestListing_MyFundraiseHidesDonate(t *testing.T) {
	s := newTestService(newReader(2, ownerA), 2)

	l := s.Listing(context.Background(), ownerA, "/my-fundraise")

	for _, c := range l.Visible() {
		assert.False(t, c.ShowDonate)
	}
}

func TestVisibleTo(t *testing.T) {
	assert.True(t, VisibleTo(ownerA, ownerA))
	assert.False(t, VisibleTo(ownerA, visitor))
	assert.False(t, VisibleTo(ownerA, common.Address{}))
}

func TestShowDonate(t *testing.T) {
	assert.True(t, ShowDonate("/donate"))
	assert.True(t, ShowDonate("/"))
	assert.False(t, ShowDonate("/my-fundraise"))
	assert.False(t, ShowDonate("/my-fundraise/0xabc"))
}

func TestListingFilter(t *testing.T) {
	l := Listing{Cards: []Card{
		{Address: common.HexToAddress("0x00000000000000000000000000000000000000aB")},
		{Address: common.HexToAddress("0x00000000000000000000000000000000000000cd")},
	}}

	assert.Len(t, l.Filter("").Cards, 2)
	assert.Len(t, l.Filter("AB").Cards, 1)
	assert.Len(t, l.Filter(" cd ").Cards, 1)
	assert.Empty(t, l.Filter("ff").Cards)
}

func TestProgress(t *testing.T) {
	assert.InDelta(t, 40.0, Progress(big.NewInt(40), big.NewInt(100)), 1e-9)
	assert.Equal(t, 0.0, Progress(big.NewInt(40), big.NewInt(0)))
	assert.Equal(t, 100.0, Progress(big.NewInt(250), big.NewInt(100)))
	assert.Equal(t, 0.0, Progress(nil, big.NewInt(100)))
}

func TestDetail(t *testing.T) {
	fund := addr(0)
	r := newReader(1, ownerA)
	r.details[fund].Deadline = big.NewInt(time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC).Unix())
	s := newTestService(r, 1)

	d, err := s.Detail(context.Background(), fund)
	require.NoError(t, err)

	assert.Equal(t, "Fri Mar 14 2025", d.EndsOn)
	assert.InDelta(t, 40.0, d.Progress, 1e-9)
	assert.Equal(t, ownerA, d.Details.Owner)
}

func TestDetail_ReadError(t *testing.T) {
	r := newReader(0, ownerA)
	s := newTestService(r, 1)

	_, err := s.Detail(context.Background(), addr(9))
	assert.Error(t, err)
}
