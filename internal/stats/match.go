package stats

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/gatewayconsole/internal/models"
)

// MatchWindow is how far apart a request and its channel record may be.
const MatchWindow = 5 * time.Minute

// ResolveOutcomes decides the success of each request row from the channel
// records. A channel record with the same non-empty request id wins;
// otherwise the record for the same model, provider and key whose timestamp
// is nearest within window is used. Rows with no match count as successful.
func ResolveOutcomes(rows []models.RequestStat, channels []models.ChannelStat, window time.Duration) []bool {
	byRequestID := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch.RequestID == "" {
			continue
		}
		if _, seen := byRequestID[ch.RequestID]; !seen {
			byRequestID[ch.RequestID] = ch.Success
		}
	}

	out := make([]bool, len(rows))
	for i, row := range rows {
		if row.RequestID != "" {
			if success, ok := byRequestID[row.RequestID]; ok {
				out[i] = success
				continue
			}
		}
		out[i] = nearestOutcome(row, channels, window)
	}
	return out
}

func nearestOutcome(row models.RequestStat, channels []models.ChannelStat, window time.Duration) bool {
	success := true
	best := window + 1
	for _, ch := range channels {
		if ch.Model != row.Model || ch.Provider != row.Provider || ch.APIKey != row.APIKey {
			continue
		}
		gap := ch.Timestamp.Sub(row.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap <= window && gap < best {
			best = gap
			success = ch.Success
		}
	}
	return success
}

// timestampLayouts covers what the gateway and the SQL drivers write.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a stored timestamp. Values without a zone are UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// dbTime scans aggregate timestamps, which SQLite returns as text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (t *dbTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: v.UTC(), Valid: true}
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		*t = dbTime{Time: time.Unix(v, 0).UTC(), Valid: true}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", value)
	}
}

func (t *dbTime) parse(raw string) error {
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = dbTime{Time: parsed, Valid: true}
	return nil
}

// Value implements driver.Valuer.
func (t dbTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}
