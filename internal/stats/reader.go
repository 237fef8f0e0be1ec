// Package stats reads request and channel statistics recorded by the gateway.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/router-for-me/gatewayconsole/internal/errs"
	"github.com/router-for-me/gatewayconsole/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// ChatEndpoint is the endpoint value of chat completion rows.
	ChatEndpoint = "POST /v1/chat/completions"

	DefaultLimit = 30
	MaxLimit     = 100
	DefaultDays  = 7
)

const usageAggregates = `COUNT(*) AS requests,
	COALESCE(SUM(total_tokens), 0) AS total_tokens,
	COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
	COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
	COALESCE(AVG(process_time), 0) AS avg_process_time,
	COALESCE(AVG(first_response_time), 0) AS avg_first_response_time`

const outcomeAggregates = `COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successes, COUNT(*) AS total`

// Reader runs read-only statistics queries.
type Reader struct {
	db  *gorm.DB
	now func() time.Time
}

// New constructs a Reader over conn.
func New(conn *gorm.DB) *Reader {
	return &Reader{db: conn, now: time.Now}
}

// LogQuery selects one page of request logs for a credential.
type LogQuery struct {
	Credential string
	Model      string
	Provider   string
	Status     *bool // nil keeps both outcomes.
	Page       int
	Limit      int // 0 uses DefaultLimit.
}

// ParseStatus maps "true"/"false" (any case) to a filter; anything else disables it.
func ParseStatus(raw string) *bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}

// LogRow is one request log entry.
type LogRow struct {
	Timestamp         time.Time `json:"timestamp"`
	Success           bool      `json:"success"`
	Model             string    `json:"model"`
	Provider          string    `json:"provider"`
	ProcessTime       float64   `json:"processTime"`
	FirstResponseTime float64   `json:"firstResponseTime"`
	PromptTokens      int64     `json:"promptTokens"`
	CompletionTokens  int64     `json:"completionTokens"`
	TotalTokens       int64     `json:"totalTokens"`
	Text              string    `json:"text"`
}

// LogPage is one page of logs.
type LogPage struct {
	Logs        []LogRow `json:"logs"`
	HasNextPage bool     `json:"hasNextPage"`
}

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 1:
		limit = 1
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return page, limit
}

// Logs returns chat completion rows newest first. One extra row is fetched
// to tell whether another page exists; the status filter applies after
// outcomes are resolved, so a filtered page may hold fewer than Limit rows.
func (r *Reader) Logs(ctx context.Context, q LogQuery) (LogPage, error) {
	page, limit := normalizePaging(q.Page, q.Limit)

	query := r.db.WithContext(ctx).
		Where("api_key = ? AND endpoint = ?", q.Credential, ChatEndpoint)
	if model := strings.TrimSpace(q.Model); model != "" {
		query = query.Where("model = ?", model)
	}
	if provider := strings.TrimSpace(q.Provider); provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var rows []models.RequestStat
	if errFind := query.Order("timestamp DESC").Order("id DESC").
		Limit(limit + 1).Offset((page - 1) * limit).
		Find(&rows).Error; errFind != nil {
		return LogPage{}, fmt.Errorf("%w: logs: %v", errs.ErrQuery, errFind)
	}

	outcomes := r.outcomesFor(ctx, q.Credential, rows)
	logs := make([]LogRow, 0, len(rows))
	for i, row := range rows {
		if q.Status != nil && outcomes[i] != *q.Status {
			continue
		}
		logs = append(logs, LogRow{
			Timestamp:         row.Timestamp,
			Success:           outcomes[i],
			Model:             row.Model,
			Provider:          row.Provider,
			ProcessTime:       row.ProcessTime,
			FirstResponseTime: row.FirstResponseTime,
			PromptTokens:      row.PromptTokens,
			CompletionTokens:  row.CompletionTokens,
			TotalTokens:       row.TotalTokens,
			Text:              row.Text,
		})
	}

	result := LogPage{Logs: logs, HasNextPage: len(logs) > limit}
	if result.HasNextPage {
		result.Logs = logs[:limit]
	}
	return result, nil
}

// outcomesFor loads channel records around rows in one query and resolves
// each row's success. A failed lookup treats every row as successful.
func (r *Reader) outcomesFor(ctx context.Context, credential string, rows []models.RequestStat) []bool {
	if len(rows) == 0 {
		return nil
	}
	oldest, newest := rows[0].Timestamp, rows[0].Timestamp
	requestIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Timestamp.Before(oldest) {
			oldest = row.Timestamp
		}
		if row.Timestamp.After(newest) {
			newest = row.Timestamp
		}
		if row.RequestID != "" {
			requestIDs = append(requestIDs, row.RequestID)
		}
	}

	window := r.db.Where("timestamp BETWEEN ? AND ?", oldest.Add(-MatchWindow), newest.Add(MatchWindow))
	if len(requestIDs) > 0 {
		window = window.Or("request_id IN ?", requestIDs)
	}
	var channels []models.ChannelStat
	if errFind := r.db.WithContext(ctx).Where("api_key = ?", credential).Where(window).Find(&channels).Error; errFind != nil {
		log.WithError(errFind).Warn("stats: channel lookup failed, treating rows as successful")
		channels = nil
	}
	return ResolveOutcomes(rows, channels, MatchWindow)
}

// ModelStat aggregates one model's chat completions.
type ModelStat struct {
	Model                string  `json:"model"`
	Requests             int64   `json:"requests"`
	Successes            int64   `json:"successes"`
	Failures             int64   `json:"failures"`
	SuccessRate          float64 `json:"successRate"`
	TotalTokens          int64   `json:"totalTokens"`
	PromptTokens         int64   `json:"promptTokens"`
	CompletionTokens     int64   `json:"completionTokens"`
	AvgProcessTime       float64 `json:"avgProcessTime"`
	AvgFirstResponseTime float64 `json:"avgFirstResponseTime"`
}

type usageAggregate struct {
	Model                string
	Requests             int64
	TotalTokens          int64
	PromptTokens         int64
	CompletionTokens     int64
	AvgProcessTime       float64
	AvgFirstResponseTime float64
	FirstAt              dbTime
	LastAt               dbTime
}

type outcomeAggregate struct {
	Model     string
	Successes int64
	Total     int64
}

func rate(successes, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(successes) / float64(total)
}

// ModelStats groups the credential's chat completions by model, most used
// first. Outcomes count channel records for the model and key between five
// minutes before its first request and five minutes after its last.
func (r *Reader) ModelStats(ctx context.Context, credential string) ([]ModelStat, error) {
	var rows []usageAggregate
	if errScan := r.db.WithContext(ctx).Model(&models.RequestStat{}).
		Select("model, "+usageAggregates+", MIN(timestamp) AS first_at, MAX(timestamp) AS last_at").
		Where("api_key = ? AND endpoint = ?", credential, ChatEndpoint).
		Group("model").
		Order("requests DESC").Order("model ASC").
		Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("%w: model stats: %v", errs.ErrQuery, errScan)
	}

	out := make([]ModelStat, 0, len(rows))
	for _, row := range rows {
		stat := ModelStat{
			Model:                row.Model,
			Requests:             row.Requests,
			TotalTokens:          row.TotalTokens,
			PromptTokens:         row.PromptTokens,
			CompletionTokens:     row.CompletionTokens,
			AvgProcessTime:       row.AvgProcessTime,
			AvgFirstResponseTime: row.AvgFirstResponseTime,
		}
		if row.FirstAt.Valid && row.LastAt.Valid {
			var outcome outcomeAggregate
			if errScan := r.db.WithContext(ctx).Model(&models.ChannelStat{}).
				Select(outcomeAggregates).
				Where("model = ? AND api_key = ?", row.Model, credential).
				Where("timestamp BETWEEN ? AND ?", row.FirstAt.Time.Add(-MatchWindow), row.LastAt.Time.Add(MatchWindow)).
				Scan(&outcome).Error; errScan != nil {
				return nil, fmt.Errorf("%w: model outcomes: %v", errs.ErrQuery, errScan)
			}
			stat.Successes = outcome.Successes
			stat.Failures = outcome.Total - outcome.Successes
		}
		stat.SuccessRate = rate(stat.Successes, stat.Successes+stat.Failures)
		out = append(out, stat)
	}
	return out, nil
}

// Overview totals the credential's chat completions.
type Overview struct {
	Requests             int64   `json:"requests"`
	TotalTokens          int64   `json:"totalTokens"`
	PromptTokens         int64   `json:"promptTokens"`
	CompletionTokens     int64   `json:"completionTokens"`
	AvgProcessTime       float64 `json:"avgProcessTime"`
	AvgFirstResponseTime float64 `json:"avgFirstResponseTime"`
}

// Overview returns the credential's totals.
func (r *Reader) Overview(ctx context.Context, credential string) (Overview, error) {
	var row usageAggregate
	if errScan := r.db.WithContext(ctx).Model(&models.RequestStat{}).
		Select(usageAggregates).
		Where("api_key = ? AND endpoint = ?", credential, ChatEndpoint).
		Scan(&row).Error; errScan != nil {
		return Overview{}, fmt.Errorf("%w: overview: %v", errs.ErrQuery, errScan)
	}
	return Overview{
		Requests:             row.Requests,
		TotalTokens:          row.TotalTokens,
		PromptTokens:         row.PromptTokens,
		CompletionTokens:     row.CompletionTokens,
		AvgProcessTime:       row.AvgProcessTime,
		AvgFirstResponseTime: row.AvgFirstResponseTime,
	}, nil
}

// ModelUsage is one model's usage by a key over the report window.
type ModelUsage struct {
	Model                 string    `json:"model"`
	RequestCount          int64     `json:"requestCount"`
	TotalPromptTokens     int64     `json:"totalPromptTokens"`
	TotalCompletionTokens int64     `json:"totalCompletionTokens"`
	TotalTokens           int64     `json:"totalTokens"`
	AvgProcessTime        float64   `json:"avgProcessTime"`
	AvgFirstResponseTime  float64   `json:"avgFirstResponseTime"`
	SuccessRate           float64   `json:"successRate"`
	FirstRequest          time.Time `json:"firstRequest"`
	LastRequest           time.Time `json:"lastRequest"`
}

// UsageSummary totals a key's usage over the report window.
type UsageSummary struct {
	TotalRequests         int64   `json:"totalRequests"`
	TotalTokens           int64   `json:"totalTokens"`
	TotalPromptTokens     int64   `json:"totalPromptTokens"`
	TotalCompletionTokens int64   `json:"totalCompletionTokens"`
	SuccessRate           float64 `json:"successRate"`
}

// KeyUsage is the usage report of one key.
type KeyUsage struct {
	TargetKey string       `json:"targetKey"`
	Days      int          `json:"days"`
	Summary   UsageSummary `json:"summary"`
	ByModel   []ModelUsage `json:"byModel"`
}

// KeyUsage reports targetKey's requests over the last days days, any
// endpoint. Success rates come from the key's channel records in the same
// window. days below 1 means DefaultDays.
func (r *Reader) KeyUsage(ctx context.Context, targetKey string, days int) (KeyUsage, error) {
	if days < 1 {
		days = DefaultDays
	}
	since := r.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	var rows []usageAggregate
	if errScan := r.db.WithContext(ctx).Model(&models.RequestStat{}).
		Select("model, "+usageAggregates+", MIN(timestamp) AS first_at, MAX(timestamp) AS last_at").
		Where("api_key = ? AND timestamp >= ?", targetKey, since).
		Group("model").
		Scan(&rows).Error; errScan != nil {
		return KeyUsage{}, fmt.Errorf("%w: key usage: %v", errs.ErrQuery, errScan)
	}

	var outcomes []outcomeAggregate
	if errScan := r.db.WithContext(ctx).Model(&models.ChannelStat{}).
		Select("model, "+outcomeAggregates).
		Where("api_key = ? AND timestamp >= ?", targetKey, since).
		Group("model").
		Scan(&outcomes).Error; errScan != nil {
		return KeyUsage{}, fmt.Errorf("%w: key outcomes: %v", errs.ErrQuery, errScan)
	}
	byModel := make(map[string]outcomeAggregate, len(outcomes))
	var summary UsageSummary
	var successes, total int64
	for _, outcome := range outcomes {
		byModel[outcome.Model] = outcome
		successes += outcome.Successes
		total += outcome.Total
	}
	summary.SuccessRate = rate(successes, total)

	report := KeyUsage{TargetKey: targetKey, Days: days, ByModel: make([]ModelUsage, 0, len(rows))}
	for _, row := range rows {
		outcome := byModel[row.Model]
		report.ByModel = append(report.ByModel, ModelUsage{
			Model:                 row.Model,
			RequestCount:          row.Requests,
			TotalPromptTokens:     row.PromptTokens,
			TotalCompletionTokens: row.CompletionTokens,
			TotalTokens:           row.TotalTokens,
			AvgProcessTime:        row.AvgProcessTime,
			AvgFirstResponseTime:  row.AvgFirstResponseTime,
			SuccessRate:           rate(outcome.Successes, outcome.Total),
			FirstRequest:          row.FirstAt.Time,
			LastRequest:           row.LastAt.Time,
		})
		summary.TotalRequests += row.Requests
		summary.TotalTokens += row.TotalTokens
		summary.TotalPromptTokens += row.PromptTokens
		summary.TotalCompletionTokens += row.CompletionTokens
	}
	sort.SliceStable(report.ByModel, func(i, j int) bool {
		if report.ByModel[i].RequestCount != report.ByModel[j].RequestCount {
			return report.ByModel[i].RequestCount > report.ByModel[j].RequestCount
		}
		return report.ByModel[i].Model < report.ByModel[j].Model
	})
	report.Summary = summary
	return report, nil
}
