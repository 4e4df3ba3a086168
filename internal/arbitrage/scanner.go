package arbitrage

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tradegate/internal/config"
	"tradegate/internal/events"
	"tradegate/internal/gateway"
	"tradegate/internal/models"
	"tradegate/internal/repository"
)

// Scanner walks the open-market list and persists every mispricing it finds.
// A re-detected ticker refreshes its ACTIVE row instead of growing a new one.
type Scanner struct {
	Repo    repository.OpportunityRepository
	Markets gateway.Markets
	Logger  *zap.Logger
	Events  events.Publisher
	Config  config.ArbitrageConfig
}

type ScanResult struct {
	MarketsScanned     int
	OpportunitiesFound int
	Expired            int64
	Opportunities      []ScanHit
}

// ScanHit is one persisted opportunity, newest quote included.
type ScanHit struct {
	ID           uint64  `json:"id"`
	MarketTicker string  `json:"market_ticker"`
	BuyBothCost  int     `json:"buy_both_cost"`
	ProfitCents  int     `json:"profit_cents"`
	ProfitPct    float64 `json:"profit_pct"`
}

// ScanForOpportunities pages through open markets, upserts a row per
// arbitrable ticker, and expires ACTIVE rows not seen within the TTL. Results
// come back sorted by profit, best first.
func (s *Scanner) ScanForOpportunities(ctx context.Context) (*ScanResult, error) {
	result := &ScanResult{}
	now := time.Now().UTC()

	limit := s.Config.PageLimit
	if limit <= 0 {
		limit = 200
	}
	maxPages := s.Config.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	cursor := ""
	for page := 0; page < maxPages; page++ {
		quotes, next, err := s.Markets.ListOpenMarkets(ctx, cursor, limit)
		if err != nil {
			return nil, err
		}
		result.MarketsScanned += len(quotes)
		for _, q := range quotes {
			det, ok := Detect(q, s.Config.MinProfitCents)
			if !ok {
				continue
			}
			hit, err := s.persist(ctx, q, det, now)
			if err != nil {
				return nil, err
			}
			result.OpportunitiesFound++
			result.Opportunities = append(result.Opportunities, hit)
		}
		if next == "" || len(quotes) == 0 {
			break
		}
		cursor = next
	}

	sort.Slice(result.Opportunities, func(i, j int) bool {
		return result.Opportunities[i].ProfitCents > result.Opportunities[j].ProfitCents
	})

	ttl := s.Config.OpportunityTTL
	if ttl > 0 {
		expired, err := s.Repo.ExpireStaleOpportunities(ctx, now.Add(-ttl))
		if err != nil {
			return nil, err
		}
		result.Expired = expired
	}

	if s.Logger != nil {
		s.Logger.Info("arbitrage scan finished",
			zap.Int("markets_scanned", result.MarketsScanned),
			zap.Int("opportunities_found", result.OpportunitiesFound),
			zap.Int64("expired", result.Expired),
		)
	}
	return result, nil
}

// SweepStale expires ACTIVE opportunities not refreshed within the TTL. The
// scan does this too; the sweep keeps rows honest between scans.
func (s *Scanner) SweepStale(ctx context.Context) (int64, error) {
	ttl := s.Config.OpportunityTTL
	if ttl <= 0 {
		return 0, nil
	}
	return s.Repo.ExpireStaleOpportunities(ctx, time.Now().UTC().Add(-ttl))
}

func (s *Scanner) persist(ctx context.Context, q gateway.MarketQuote, det Detection, now time.Time) (ScanHit, error) {
	raw, _ := json.Marshal(q)
	item := &models.ArbitrageOpportunity{
		MarketTicker: q.Ticker,
		MarketTitle:  q.Title,
		YesBid:       q.YesBid,
		YesAsk:       q.YesAsk,
		NoBid:        q.NoBid,
		NoAsk:        q.NoAsk,
		BuyBothCost:  det.BuyBothCost,
		Payout:       models.GuaranteedPayout,
		ProfitCents:  det.ProfitCents,
		ProfitPct:    det.ProfitPct,
		Status:       models.OpportunityActive,
		Quote:        datatypes.JSON(raw),
		AlertSent:    s.Events != nil,
		DetectedAt:   now,
		LastSeenAt:   now,
	}
	if err := s.Repo.UpsertActiveOpportunity(ctx, item); err != nil {
		return ScanHit{}, err
	}
	// The upsert path leaves item.ID at the inserted value or zero; resolve
	// the row id for the caller either way.
	if item.ID == 0 {
		existing, err := s.Repo.GetActiveOpportunityByTicker(ctx, q.Ticker)
		if err != nil {
			return ScanHit{}, err
		}
		if existing != nil {
			item = existing
		}
	}
	s.publish(ctx, events.ArbitrageSignalGenerated{Opportunity: *item})
	return ScanHit{
		ID:           item.ID,
		MarketTicker: item.MarketTicker,
		BuyBothCost:  item.BuyBothCost,
		ProfitCents:  item.ProfitCents,
		ProfitPct:    item.ProfitPct,
	}, nil
}

func (s *Scanner) publish(ctx context.Context, e events.Event) {
	if s.Events != nil {
		s.Events.Publish(ctx, e)
	}
}
