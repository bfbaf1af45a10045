package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/store"
)

// TitleStore is the slice of the gateway the classifier needs.
type TitleStore interface {
	FetchPendingTitleClassifications(ctx context.Context, limit int, retryWindow time.Duration, now time.Time) ([]store.PendingTitle, error)
	SaveTitleClassification(ctx context.Context, postingID uuid.UUID, class model.TitleClass, at time.Time) error
	RecordTitleClassificationError(ctx context.Context, postingID uuid.UUID, msg string, at time.Time) error
}

// Classifier assigns each new posting title one of the two classes. An
// unexpected model answer is recorded as an error and the classification
// stays null; the class is never defaulted.
type Classifier struct {
	llm    LLM
	store  TitleStore
	clock  clock.Clock
	logger *zap.Logger
	prompt PromptRef
	batch  int
	window time.Duration
}

// NewClassifier builds the title classifier and its worker loop.
func NewClassifier(llm LLM, st TitleStore, clk clock.Clock, logger *zap.Logger, prompt PromptRef, tick time.Duration, batch int, window time.Duration) (*Classifier, *Worker) {
	c := &Classifier{
		llm:    llm,
		store:  st,
		clock:  clk,
		logger: logger,
		prompt: prompt,
		batch:  batch,
		window: window,
	}
	return c, &Worker{name: "title_classifier", tick: tick, logger: logger, pass: c.Pass}
}

// Pass classifies one pending batch. Per-entity failures are recorded on the
// entity and do not abort the pass.
func (c *Classifier) Pass(ctx context.Context) (int, error) {
	pending, err := c.store.FetchPendingTitleClassifications(ctx, c.batch, c.window, c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("fetch pending classifications: %w", err)
	}

	for _, p := range pending {
		c.classify(ctx, p)
	}
	return len(pending), nil
}

func (c *Classifier) classify(ctx context.Context, p store.PendingTitle) {
	logger := c.logger.With(
		zap.String("posting_id", p.JobPostingID.String()),
		zap.String("title", p.Title),
	)

	out, err := c.llm.Generate(ctx, c.prompt, p.Title)
	if err != nil {
		c.recordError(ctx, p.JobPostingID, err.Error(), logger)
		return
	}

	class, err := parseClassification(out)
	if err != nil {
		c.recordError(ctx, p.JobPostingID, err.Error(), logger)
		return
	}

	if err := c.store.SaveTitleClassification(ctx, p.JobPostingID, class, c.clock.Now()); err != nil {
		logger.Error("failed to save classification", zap.Error(err))
		metrics.ObserveEnrichment("title", "error")
		return
	}
	metrics.ObserveEnrichment("title", "ok")
	logger.Debug("title classified", zap.String("class", string(class)))
}

func (c *Classifier) recordError(ctx context.Context, postingID uuid.UUID, msg string, logger *zap.Logger) {
	metrics.ObserveEnrichment("title", "error")
	logger.Warn("title classification failed", zap.String("error", msg))
	if err := c.store.RecordTitleClassificationError(ctx, postingID, msg, c.clock.Now()); err != nil {
		logger.Error("failed to record classification error", zap.Error(err))
	}
}

// parseClassification accepts either a bare label or a {"classification": X}
// JSON object, across prompt versions. Only the two known classes pass.
func parseClassification(out string) (model.TitleClass, error) {
	raw := strings.TrimSpace(out)
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			Classification string `json:"classification"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", fmt.Errorf("unparseable classification payload: %v", err)
		}
		raw = strings.TrimSpace(payload.Classification)
	}
	raw = strings.Trim(raw, `"`)

	switch model.TitleClass(raw) {
	case model.TitleClassData:
		return model.TitleClassData, nil
	case model.TitleClassNIS:
		return model.TitleClassNIS, nil
	default:
		return "", fmt.Errorf("Unexpected classification: %s", raw)
	}
}
