package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ClassifierService assigns categories to stored emails using either the
// local model or a remote batch classifier. Manual labels are sticky: a
// row whose provenance is manual is never touched by automated passes.
type ClassifierService struct {
	emails    EmailStore
	system    SystemStore
	remote    BatchClassifier
	model     LocalModel
	blocklist DomainBlocklist
	source    MailSource
	logger    *zap.Logger
	batchSize int
	fetchBack time.Duration
	now       func() time.Time
}

// NewClassifierService creates a new classifier service
func NewClassifierService(
	emails EmailStore,
	system SystemStore,
	remote BatchClassifier,
	model LocalModel,
	blocklist DomainBlocklist,
	source MailSource,
	logger *zap.Logger,
	batchSize int,
	fetchBack time.Duration,
) *ClassifierService {
	if batchSize <= 0 {
		batchSize = 40
	}
	return &ClassifierService{
		emails:    emails,
		system:    system,
		remote:    remote,
		model:     model,
		blocklist: blocklist,
		source:    source,
		logger:    logger,
		batchSize: batchSize,
		fetchBack: fetchBack,
		now:       time.Now,
	}
}

// FeatureText builds the combined feature string the local model is
// trained and queried on.
func FeatureText(e *Email) string {
	return fmt.Sprintf("%s <%s> - %s", e.SenderName, e.SenderAddress, e.Subject)
}

// Classify assigns categories to the referenced emails. All ids are
// validated before anything is written. Rows already labeled manually are
// left untouched but still count toward Attempted. On a mid-batch remote
// failure the rows written so far are kept and the error is returned
// alongside the partial counts.
func (s *ClassifierService) Classify(ctx context.Context, ids []string, mode ClassifyMode) (BatchResult, error) {
	res := BatchResult{Attempted: len(ids)}

	if mode != ModeLocal && mode != ModeRemote {
		return res, Errorf(ErrValidation, "unknown classification mode %q", mode)
	}

	batch := make([]*Email, 0, len(ids))
	for _, id := range ids {
		email, err := s.emails.Get(ctx, id)
		if err != nil {
			return res, fmt.Errorf("failed to load email %s: %w", id, err)
		}
		if email == nil {
			return res, Errorf(ErrValidation, "unknown email id %q", id)
		}
		if email.PredictedBy == PredictedByManual {
			continue
		}
		batch = append(batch, email)
	}

	var err error
	switch mode {
	case ModeLocal:
		res.Classified, err = s.classifyLocal(ctx, batch)
	case ModeRemote:
		res.Classified, err = s.classifyRemote(ctx, batch)
	}

	if err != nil && res.Classified > 0 {
		err = WrapErr(ErrPartialBatch,
			fmt.Sprintf("classified %d of %d", res.Classified, res.Attempted), err)
	}
	return res, err
}

// classifyLocal runs the blocklist and the local model over the batch
func (s *ClassifierService) classifyLocal(ctx context.Context, batch []*Email) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if s.model == nil || !s.model.Ready() {
		return 0, Errorf(ErrValidation, "local model is not trained")
	}

	classified := 0
	for _, email := range batch {
		category, confidence := s.verdictLocal(ctx, email)
		if err := s.emails.UpdateClassification(ctx, email.ID, category, PredictedByLocal, confidence, s.now()); err != nil {
			return classified, fmt.Errorf("failed to update email %s: %w", email.ID, err)
		}
		classified++
	}

	if err := s.system.SetValue(ctx, SysLastPreclassify, s.now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("Failed to record preclassify timestamp", zap.Error(err))
	}
	s.logger.Info("Local classification pass complete", zap.Int("classified", classified))
	return classified, nil
}

// verdictLocal decides one email's category using the blocklist then the
// local model
func (s *ClassifierService) verdictLocal(ctx context.Context, email *Email) (string, float64) {
	if s.blocklist != nil && s.blocklist.IsListed(ctx, email.SenderAddress) {
		s.logger.Info("Sender domain is blocklisted",
			zap.String("id", email.ID),
			zap.String("sender", email.SenderAddress))
		return LabelBlacklisted, 100
	}
	label, confidence := s.model.Predict(FeatureText(email))
	if !ValidLabel(label) || label == LabelUncategorized {
		return LabelFlagged, 0
	}
	return label, confidence
}

// classifyRemote sends the batch to the remote classifier in sub-batches.
// Blocklisted senders are settled locally first and never sent upstream.
func (s *ClassifierService) classifyRemote(ctx context.Context, batch []*Email) (int, error) {
	classified := 0
	remaining := make([]*Email, 0, len(batch))
	for _, email := range batch {
		if s.blocklist != nil && s.blocklist.IsListed(ctx, email.SenderAddress) {
			if err := s.emails.UpdateClassification(ctx, email.ID, LabelBlacklisted, PredictedByLocal, 100, s.now()); err != nil {
				return classified, fmt.Errorf("failed to update email %s: %w", email.ID, err)
			}
			classified++
			continue
		}
		remaining = append(remaining, email)
	}

	for start := 0; start < len(remaining); start += s.batchSize {
		end := start + s.batchSize
		if end > len(remaining) {
			end = len(remaining)
		}
		sub := remaining[start:end]

		predictions, err := s.remote.ClassifyBatch(ctx, sub)
		if err != nil {
			return classified, WrapErr(ErrUpstreamUnavailable, "remote classification failed", err)
		}

		for _, p := range predictions {
			category := p.Category
			if !ValidLabel(category) || category == LabelUncategorized {
				s.logger.Warn("Remote classifier returned unknown category",
					zap.String("id", p.ID), zap.String("category", category))
				category = LabelFlagged
			}
			if err := s.emails.UpdateClassification(ctx, p.ID, category, PredictedByOpenAI, 0, s.now()); err != nil {
				return classified, fmt.Errorf("failed to update email %s: %w", p.ID, err)
			}
			classified++
		}
		s.logger.Info("Remote classification batch complete",
			zap.Int("batch", len(sub)), zap.Int("classified", len(predictions)))
	}
	return classified, nil
}

// ClassifyAll classifies every unclassified email, one batch at a time,
// until none remain
func (s *ClassifierService) ClassifyAll(ctx context.Context, mode ClassifyMode) (BatchResult, error) {
	var total BatchResult
	prev := -1
	for {
		pending, err := s.emails.List(ctx, EmailFilter{Unclassified: true})
		if err != nil {
			return total, fmt.Errorf("failed to list unclassified emails: %w", err)
		}
		if len(pending) == 0 {
			return total, nil
		}
		if prev >= 0 && len(pending) >= prev {
			// A round that did not shrink the backlog will not shrink it
			// on a retry either; stop instead of spinning on the remote
			s.logger.Warn("Classification pass made no progress",
				zap.Int("pending", len(pending)))
			return total, nil
		}
		prev = len(pending)

		if len(pending) > s.batchSize {
			pending = pending[:s.batchSize]
		}
		ids := make([]string, len(pending))
		for i, e := range pending {
			ids[i] = e.ID
		}

		res, err := s.Classify(ctx, ids, mode)
		total.Classified += res.Classified
		total.Attempted += res.Attempted
		if err != nil {
			return total, err
		}
		if res.Classified == 0 {
			// Nothing changed this round; the rest is unclassifiable
			return total, nil
		}
	}
}

// FetchAndClassify ingests new mail from the source and then classifies
// whatever is unclassified. An ingest failure aborts before any
// classification; a classification failure after a successful ingest still
// counts the ingest.
func (s *ClassifierService) FetchAndClassify(ctx context.Context, mode ClassifyMode) (FetchResult, BatchResult, error) {
	var fetched FetchResult
	if s.source == nil {
		return fetched, BatchResult{}, Errorf(ErrValidation, "no mail source configured")
	}

	since := s.now().Add(-s.fetchBack)
	messages, err := s.source.Fetch(ctx, since)
	if err != nil {
		return fetched, BatchResult{}, WrapErr(ErrUpstreamUnavailable, "mail fetch failed", err)
	}
	fetched.Fetched = len(messages)

	for _, msg := range messages {
		if msg.Category == "" {
			msg.Category = LabelUncategorized
		}
		if msg.PredictedBy == "" {
			msg.PredictedBy = PredictedByNone
		}
		inserted, err := s.emails.Insert(ctx, msg)
		if err != nil {
			return fetched, BatchResult{}, fmt.Errorf("failed to insert email %s: %w", msg.ID, err)
		}
		if inserted {
			fetched.Inserted++
		}
	}
	s.logger.Info("Mail ingest complete",
		zap.Int("fetched", fetched.Fetched), zap.Int("inserted", fetched.Inserted))

	classifyRes, err := s.ClassifyAll(ctx, mode)
	return fetched, classifyRes, err
}

// Categorize applies a manual label. Manual labels are permanent as far as
// automated classification is concerned and re-enter the training pool.
func (s *ClassifierService) Categorize(ctx context.Context, id, category string) error {
	if !ValidLabel(category) {
		return Errorf(ErrValidation, "unknown category %q", category)
	}
	email, err := s.emails.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load email %s: %w", id, err)
	}
	if email == nil {
		return Errorf(ErrValidation, "unknown email id %q", id)
	}
	if err := s.emails.UpdateClassification(ctx, id, category, PredictedByManual, 0, s.now()); err != nil {
		return fmt.Errorf("failed to update email %s: %w", id, err)
	}
	s.logger.Info("Manual label applied",
		zap.String("id", id), zap.String("category", category))
	return nil
}

// ClearEmails removes every stored email. Sender reputation rows and
// training runs are kept; run a recalculation afterwards to empty the
// sender table too.
func (s *ClassifierService) ClearEmails(ctx context.Context) error {
	if err := s.emails.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear emails: %w", err)
	}
	s.logger.Info("Email store cleared")
	return nil
}

// Stats assembles the dashboard summary
func (s *ClassifierService) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	total, unclassified, unread, err := s.emails.Counts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count emails: %w", err)
	}
	stats.Total = total
	stats.Unclassified = unclassified
	stats.Unread = unread
	stats.LastTrained = s.systemTime(ctx, SysLastTrained)
	stats.LastPreclassify = s.systemTime(ctx, SysLastPreclassify)
	return stats, nil
}

func (s *ClassifierService) systemTime(ctx context.Context, key string) *time.Time {
	value, ok, err := s.system.GetValue(ctx, key)
	if err != nil || !ok {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		s.logger.Warn("Malformed system timestamp",
			zap.String("key", key), zap.String("value", value))
		return nil
	}
	return &ts
}
