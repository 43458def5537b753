// Package funds builds the fund listing and detail view models from
// factory and fund contract reads.
package funds

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/raisefi/service/chain"
)

// MyFundraisePath is the path prefix of the owner pages. Cards rendered
// under it never show the donate action.
const MyFundraisePath = "/my-fundraise"

// DeadlineLayout renders deadlines like "Mon Jan 02 2006".
const DeadlineLayout = "Mon Jan 02 2006"

// Reader is the subset of chain.Client the listing needs.
type Reader interface {
	ActiveFunds(ctx context.Context) ([]common.Address, error)
	FundDetails(ctx context.Context, fund common.Address) (*chain.FundDetails, error)
}

// Card is the view model for one fund in a listing.
type Card struct {
	Address common.Address
	// Details is nil while the detail read has not resolved (or failed).
	Details    *chain.FundDetails
	Visible    bool
	ShowDonate bool
	ShareURL   string
}

// Loading reports whether the card is still waiting on its detail read.
func (c Card) Loading() bool { return c.Details == nil }

// Progress returns raised/target as a percentage in [0, 100].
func (c Card) Progress() float64 {
	if c.Details == nil {
		return 0
	}
	return Progress(c.Details.RaisedAmount, c.Details.TargetAmount)
}

// Listing is the result of one listing read.
type Listing struct {
	// Loading is true when the address list has not resolved. A failed
	// list read looks the same as one that is still in flight.
	Loading bool
	Cards   []Card
}

// Visible returns the cards that should be rendered.
func (l Listing) Visible() []Card {
	out := make([]Card, 0, len(l.Cards))
	for _, c := range l.Cards {
		if c.Visible && !c.Loading() {
			out = append(out, c)
		}
	}
	return out
}

// Filter keeps cards whose address contains query, case-insensitively.
// An empty query keeps everything.
func (l Listing) Filter(query string) Listing {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return l
	}
	out := Listing{Loading: l.Loading, Cards: make([]Card, 0, len(l.Cards))}
	for _, c := range l.Cards {
		if strings.Contains(strings.ToLower(c.Address.Hex()), query) {
			out.Cards = append(out.Cards, c)
		}
	}
	return out
}

// Detail is the view model of the single-fund page.
type Detail struct {
	Details  *chain.FundDetails
	EndsOn   string
	Progress float64
}

// VisibleTo decides whether a fund card is rendered for viewer.
//
// A card is shown only to the fund's owner, so visitors browsing /donate
// see no funds they could donate to. This matches the deployed product's
// behavior and is kept on purpose until product decides otherwise; flip it
// here and nowhere else.
func VisibleTo(owner, viewer common.Address) bool {
	if viewer == (common.Address{}) {
		return false
	}
	return owner == viewer
}

// ShowDonate reports whether the donate action belongs on the page at path.
func ShowDonate(path string) bool {
	return !strings.Contains(path, strings.TrimPrefix(MyFundraisePath, "/"))
}

// ShareURL returns the owner page link for a fund.
func ShareURL(fund common.Address) string {
	return MyFundraisePath + "/" + fund.Hex()
}

// Progress returns raised/target*100 clamped to [0, 100]. A zero or
// missing target yields 0.
func Progress(raised, target *big.Int) float64 {
	if raised == nil || target == nil || target.Sign() <= 0 {
		return 0
	}
	pct, _ := new(big.Rat).SetFrac(new(big.Int).Mul(raised, big.NewInt(100)), target).Float64()
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// Service reads funds from the chain.
type Service struct {
	reader      Reader
	concurrency int
	logger      *slog.Logger
}

// NewService creates a listing service. concurrency bounds the number of
// in-flight detail reads per listing.
func NewService(reader Reader, concurrency int, logger *slog.Logger) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{reader: reader, concurrency: concurrency, logger: logger}
}

// ListActive returns the factory's active fund addresses in factory order.
func (s *Service) ListActive(ctx context.Context) ([]common.Address, error) {
	return s.reader.ActiveFunds(ctx)
}

// Listing reads the active funds and their details. It produces exactly
// one card per address, in factory order. Read failures never surface as
// errors here: a failed list read yields a Loading listing and a failed
// detail read leaves that card loading.
func (s *Service) Listing(ctx context.Context, viewer common.Address, path string) Listing {
	addrs, err := s.reader.ActiveFunds(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list active funds", "error", err)
		return Listing{Loading: true}
	}

	cards := make([]Card, len(addrs))
	showDonate := ShowDonate(path)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, addr := range addrs {
		cards[i] = Card{Address: addr, ShowDonate: showDonate, ShareURL: ShareURL(addr)}
		g.Go(func() error {
			details, err := s.reader.FundDetails(ctx, addr)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to read fund details", "fund", addr.Hex(), "error", err)
				return nil
			}
			cards[i].Details = details
			cards[i].Visible = VisibleTo(details.Owner, viewer)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.DebugContext(ctx, "built fund listing",
		"count", len(cards),
		"viewer", viewer.Hex(),
		"path", path,
	)

	return Listing{Cards: cards}
}

// Detail reads one fund for the detail page.
func (s *Service) Detail(ctx context.Context, fund common.Address) (*Detail, error) {
	details, err := s.reader.FundDetails(ctx, fund)
	if err != nil {
		return nil, fmt.Errorf("failed to read fund %s: %w", fund.Hex(), err)
	}
	return NewDetail(details), nil
}

// NewDetail computes the detail page fields from a details tuple.
func NewDetail(details *chain.FundDetails) *Detail {
	return &Detail{
		Details:  details,
		EndsOn:   FormatDeadline(details.DeadlineTime()),
		Progress: Progress(details.RaisedAmount, details.TargetAmount),
	}
}

// FormatDeadline formats a deadline in UTC.
func FormatDeadline(t time.Time) string {
	return t.UTC().Format(DeadlineLayout)
}
