package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"jobradar/internal/model"
)

// BrightDataConfig configures one platform dataset on the datasets-v3 API.
type BrightDataConfig struct {
	BaseURL         string
	APIToken        string
	DatasetID       string
	Source          model.Source
	TriggerTimeout  time.Duration
	DownloadTimeout time.Duration
}

// BrightDataClient talks to the vendor's datasets-v3 HTTP surface for a
// single platform dataset.
type BrightDataClient struct {
	cfg    BrightDataConfig
	http   *http.Client
	logger *zap.Logger
}

// NewBrightData builds a platform client. The HTTP client uses a 30 s connect
// timeout; read budgets come from the per-call contexts and cfg timeouts.
func NewBrightData(cfg BrightDataConfig, logger *zap.Logger) (*BrightDataClient, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("vendor api token is required")
	}
	if cfg.DatasetID == "" {
		return nil, fmt.Errorf("dataset id is required for source %s", cfg.Source)
	}
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 300 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 300 * time.Second
	}
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout: 30 * time.Second,
	}
	return &BrightDataClient{
		cfg:    cfg,
		http:   &http.Client{Transport: transport},
		logger: logger,
	}, nil
}

// Source identifies the platform this client scrapes.
func (c *BrightDataClient) Source() model.Source {
	return c.cfg.Source
}

// dateRangeParam maps the discovery window onto the vendor's expected value.
var dateRangeParam = map[model.DateRange]string{
	model.RangePast24h:   "Past 24 hours",
	model.RangePastWeek:  "Past week",
	model.RangePastMonth: "Past month",
}

// Trigger starts a keyword-discovery snapshot and returns its id.
func (c *BrightDataClient) Trigger(ctx context.Context, keyword, location string, dateRange model.DateRange, limit int) (string, error) {
	loc, countryHint := RewriteLocation(location)
	input := map[string]any{
		"keyword":    keyword,
		"location":   loc,
		"time_range": dateRangeParam[dateRange],
	}
	if countryHint != "" {
		input["country"] = countryHint
	}
	if limit > 0 {
		input["limit_per_input"] = fmt.Sprintf("%d", limit)
	}
	body, err := json.Marshal(map[string]any{"input": []any{input}})
	if err != nil {
		return "", fmt.Errorf("marshal trigger body: %w", err)
	}

	q := url.Values{}
	q.Set("dataset_id", c.cfg.DatasetID)
	q.Set("include_errors", "true")
	q.Set("type", "discover_new")
	q.Set("discover_by", "keyword")
	endpoint := fmt.Sprintf("%s/trigger?%s", c.cfg.BaseURL, q.Encode())

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TriggerTimeout)
	defer cancel()

	respBody, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}

	var out struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse trigger response: %w", err)
	}
	if out.SnapshotID == "" {
		return "", fmt.Errorf("trigger response missing snapshot_id: %w", ErrBadRequest)
	}
	return out.SnapshotID, nil
}

// SnapshotStatus reports the vendor-side build state of a snapshot.
func (c *BrightDataClient) SnapshotStatus(ctx context.Context, snapshotID string) (Status, error) {
	endpoint := fmt.Sprintf("%s/progress/%s", c.cfg.BaseURL, url.PathEscape(snapshotID))
	respBody, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Status{}, err
	}

	var out struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Status{}, fmt.Errorf("parse progress response: %w", err)
	}

	st := Status{ProgressPct: out.Progress, Error: out.Error}
	switch out.Status {
	case "ready", "done":
		st.State = StateReady
	case "failed", "error":
		st.State = StateFailed
	default:
		st.State = StateRunning
	}
	return st, nil
}

// Download fetches the records of a ready snapshot. A JSON object in the
// response is always a vendor envelope (building or error); only an array is
// a successful result.
func (c *BrightDataClient) Download(ctx context.Context, snapshotID string) ([]JobRecord, error) {
	endpoint := fmt.Sprintf("%s/snapshot/%s?format=json", c.cfg.BaseURL, url.PathEscape(snapshotID))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	respBody, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var envelope struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("parse snapshot envelope: %w", err)
		}
		if envelope.Status == "building" || envelope.Status == "running" {
			return nil, fmt.Errorf("snapshot %s still building: %w", snapshotID, ErrNotReady)
		}
		return nil, fmt.Errorf("snapshot %s error envelope (%s): %s: %w",
			snapshotID, envelope.Status, envelope.Message, ErrBuildFailed)
	}

	return c.decodeRecords(trimmed)
}

// AwaitReady polls the snapshot until ready, then downloads it.
func (c *BrightDataClient) AwaitReady(ctx context.Context, snapshotID string, pollEvery, deadline time.Duration) ([]JobRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		st, err := c.SnapshotStatus(ctx, snapshotID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrTimeout)
			}
			return nil, err
		}
		switch st.State {
		case StateReady:
			return c.Download(ctx, snapshotID)
		case StateFailed:
			return nil, fmt.Errorf("snapshot %s: %s: %w", snapshotID, st.Error, ErrBuildFailed)
		}
		if c.logger != nil {
			c.logger.Debug("snapshot building",
				zap.String("snapshot_id", snapshotID),
				zap.Int("progress_pct", st.ProgressPct),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (c *BrightDataClient) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build vendor request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendor request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read vendor response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("vendor returned %d: %w", resp.StatusCode, ErrQuotaExceeded)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("vendor returned 401: %w", ErrAuth)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("vendor returned %d: %s: %w", resp.StatusCode, string(respBody), ErrBadRequest)
	default:
		return nil, fmt.Errorf("vendor returned %d: %s", resp.StatusCode, string(respBody))
	}
}

func (c *BrightDataClient) decodeRecords(data []byte) ([]JobRecord, error) {
	switch c.cfg.Source {
	case model.SourceLinkedIn:
		var raw []linkedinRecord
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode linkedin records: %w", err)
		}
		out := make([]JobRecord, 0, len(raw))
		for _, r := range raw {
			out = append(out, r.toJobRecord())
		}
		return out, nil
	case model.SourceIndeed:
		var raw []indeedRecord
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode indeed records: %w", err)
		}
		out := make([]JobRecord, 0, len(raw))
		for _, r := range raw {
			out = append(out, r.toJobRecord())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown source %q: %w", c.cfg.Source, ErrBadRequest)
	}
}
