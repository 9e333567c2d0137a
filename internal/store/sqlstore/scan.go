package sqlstore

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var (
		t          domain.Trigger
		startMs    int64
		endMs      sql.NullInt64
		intervalMs int64
		misfire    int
		nextMs     sql.NullInt64
		prevMs     sql.NullInt64
		state      string
	)
	err := row.Scan(
		&t.Key.Group,
		&t.Key.Name,
		&t.JobKey.Group,
		&t.JobKey.Name,
		&t.Description,
		&startMs,
		&endMs,
		&t.CronExpression,
		&t.Timezone,
		&t.RepeatCount,
		&intervalMs,
		&t.TimesTriggered,
		&t.Priority,
		&misfire,
		&nextMs,
		&prevMs,
		&state,
		&t.Recovering,
	)
	if err != nil {
		return domain.Trigger{}, err
	}
	t.StartAt = fromMillis(startMs)
	t.EndAt = fromNullMillis(endMs)
	t.RepeatInterval = time.Duration(intervalMs) * time.Millisecond
	t.MisfireInstruction = domain.MisfireInstruction(misfire)
	t.NextFireTime = fromNullMillis(nextMs)
	t.PreviousFireTime = fromNullMillis(prevMs)
	t.State = domain.TriggerState(state)
	return t, nil
}

// scanTriggers drains and closes rows.
func scanTriggers(rows *sql.Rows) ([]domain.Trigger, error) {
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func sortTriggers(ts []domain.Trigger) {
	sort.Slice(ts, func(i, j int) bool { return store.Less(ts[i], ts[j]) })
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func encodeJobData(data map[string]string) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJobData(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, err
	}
	return data, nil
}
