package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Labels that move a sender's score. Everything else is neutral.
var (
	positiveLabels = map[string]bool{
		"Important": true,
		"Work":      true,
		"Personal":  true,
		"Receipts":  true,
	}
	negativeLabels = map[string]bool{
		"Suspected Spam": true,
		"Confirmed Spam": true,
		"Spam":           true,
		"Phishing":       true,
		"Blacklisted":    true,
	}
)

// Volume damping constant: a sender with very few emails sits near the
// neutral midpoint regardless of how the few were labeled.
const reputationDamping = 2.0

// ReputationService derives per-sender trust from classification history.
// Senders are only written by a full recalculation pass over the email
// store; individual rows are never patched.
type ReputationService struct {
	emails  EmailStore
	senders SenderStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewReputationService creates a new reputation service
func NewReputationService(emails EmailStore, senders SenderStore, logger *zap.Logger) *ReputationService {
	return &ReputationService{
		emails:  emails,
		senders: senders,
		logger:  logger,
		now:     time.Now,
	}
}

// ScoreCounts computes the trust score for one category histogram. The
// score is monotonic: another positive label never lowers it, another
// negative label never raises it.
func ScoreCounts(counts map[string]int) float64 {
	total := 0
	positives := 0
	negatives := 0
	for label, n := range counts {
		total += n
		if positiveLabels[label] {
			positives += n
		}
		if negativeLabels[label] {
			negatives += n
		}
	}
	if total == 0 {
		return 0.5
	}

	raw := float64(positives-negatives) / float64(total)
	weight := float64(total) / (float64(total) + reputationDamping)
	score := 0.5 + raw/2*weight
	// Clamp against float drift
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*10000) / 10000
}

// Recalculate rebuilds the whole sender table from a single scan of the
// classified emails. It is idempotent: with no intervening email writes,
// two passes produce identical rows. An empty or fully-unclassified store
// yields zero senders, not an error.
func (s *ReputationService) Recalculate(ctx context.Context) (int, error) {
	emails, err := s.emails.List(ctx, EmailFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to scan emails: %w", err)
	}

	type agg struct {
		name   string
		counts map[string]int
	}
	byAddress := make(map[string]*agg)
	for _, e := range emails {
		if e.SenderAddress == "" || !e.Classified() {
			continue
		}
		a, ok := byAddress[e.SenderAddress]
		if !ok {
			a = &agg{counts: make(map[string]int)}
			byAddress[e.SenderAddress] = a
		}
		// List is newest-first, so keep the first name seen
		if a.name == "" {
			a.name = e.SenderName
		}
		a.counts[e.Category]++
	}

	updatedAt := s.now().UTC().Truncate(time.Second)
	senders := make([]*Sender, 0, len(byAddress))
	for address, a := range byAddress {
		score := ScoreCounts(a.counts)
		senders = append(senders, &Sender{
			Address:   address,
			Name:      a.name,
			Score:     score,
			State:     StateForScore(score),
			Counts:    a.counts,
			UpdatedAt: updatedAt,
		})
	}
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Score != senders[j].Score {
			return senders[i].Score > senders[j].Score
		}
		return senders[i].Address < senders[j].Address
	})

	if err := s.senders.ReplaceAll(ctx, senders); err != nil {
		return 0, fmt.Errorf("failed to replace sender table: %w", err)
	}

	s.logger.Info("Sender reputation recalculated", zap.Int("senders", len(senders)))
	return len(senders), nil
}

// List returns senders matching the filter, score-descending
func (s *ReputationService) List(ctx context.Context, filter SenderFilter) ([]*Sender, error) {
	senders, err := s.senders.ListSenders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}
	return senders, nil
}
