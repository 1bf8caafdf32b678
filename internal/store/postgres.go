package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codelesshq/analytics/internal/models"
)

// schemaSQL is embedded so the server can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer: the event log plus the
// user/session rollups.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if the DB is
// unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// nullable maps "" to NULL so queries can distinguish absent values (for
// example /api/apps excludes rows with no app_id).
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertEvents persists a batch in a single all-or-nothing transaction. Each
// event becomes one row, and the user/session rollups are upserted per event.
// The increment happens inside the UPDATE so concurrent batches never lose
// counts; the invariant is rollup counts == stored events per key.
//
// Events missing a distinct_id or session_id still insert the event row and
// skip the affected rollup.
func (p *PostgresStore) InsertEvents(ctx context.Context, events []models.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range events {
		props := ev.Properties
		if props == nil {
			props = map[string]any{}
		}
		propsJSON, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("marshal properties: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO events (event_name, distinct_id, session_id, app_id, timestamp, url, referrer, browser, os, device_type, properties)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, ev.EventName, nullable(ev.DistinctID), nullable(ev.SessionID), nullable(ev.AppID),
			ev.Timestamp, nullable(ev.URL), nullable(ev.Referrer),
			nullable(ev.Browser), nullable(ev.OS), nullable(ev.DeviceType), propsJSON)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		if ev.DistinctID != "" {
			_, err = tx.Exec(ctx, `
				INSERT INTO users (distinct_id, first_seen, last_seen, total_events)
				VALUES ($1, $2, $2, 1)
				ON CONFLICT (distinct_id) DO UPDATE SET
					last_seen = $2,
					total_events = users.total_events + 1
			`, ev.DistinctID, ev.Timestamp)
			if err != nil {
				return fmt.Errorf("upsert user: %w", err)
			}
		}

		if ev.SessionID != "" {
			_, err = tx.Exec(ctx, `
				INSERT INTO sessions (session_id, distinct_id, start_time, end_time, event_count)
				VALUES ($1, $2, $3, $3, 1)
				ON CONFLICT (session_id) DO UPDATE SET
					end_time = $3,
					event_count = sessions.event_count + 1
			`, ev.SessionID, nullable(ev.DistinctID), ev.Timestamp)
			if err != nil {
				return fmt.Errorf("upsert session: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// ListOptions filters and pages the event listing.
type ListOptions struct {
	Limit  int
	Offset int
	// UserID is a substring match on distinct_id.
	UserID string
	// AppID is an exact match.
	AppID string
}

const eventColumns = `
	id, event_name,
	COALESCE(distinct_id,''), COALESCE(session_id,''), COALESCE(app_id,''),
	timestamp,
	COALESCE(url,''), COALESCE(referrer,''),
	COALESCE(browser,''), COALESCE(os,''), COALESCE(device_type,''),
	properties`

func scanEvents(rows pgx.Rows) ([]models.StoredEvent, error) {
	defer rows.Close()

	events := []models.StoredEvent{}
	for rows.Next() {
		var ev models.StoredEvent
		var propsJSON []byte
		err := rows.Scan(&ev.ID, &ev.EventName,
			&ev.DistinctID, &ev.SessionID, &ev.AppID,
			&ev.Timestamp,
			&ev.URL, &ev.Referrer,
			&ev.Browser, &ev.OS, &ev.DeviceType,
			&propsJSON)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(propsJSON, &ev.Properties); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListEvents returns one page of events ordered by timestamp descending,
// plus the total matching count for pagination.
func (p *PostgresStore) ListEvents(ctx context.Context, opts ListOptions) ([]models.StoredEvent, int64, error) {
	where := ""
	args := []any{}

	if opts.UserID != "" {
		args = append(args, opts.UserID)
		where = appendCond(where, fmt.Sprintf("distinct_id LIKE '%%' || $%d || '%%'", len(args)))
	}
	if opts.AppID != "" {
		args = append(args, opts.AppID)
		where = appendCond(where, fmt.Sprintf("app_id = $%d", len(args)))
	}

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM events%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d",
		eventColumns, where, len(args)+1, len(args)+2)
	rows, err := p.pool.Query(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func appendCond(where, cond string) string {
	if where == "" {
		return " WHERE " + cond
	}
	return where + " AND " + cond
}

// Stats aggregates event totals, per-type counts and top URLs. appID scopes
// the event-derived numbers only; totalUsers and totalSessions stay global.
func (p *PostgresStore) Stats(ctx context.Context, appID string) (models.Stats, error) {
	where := ""
	args := []any{}
	if appID != "" {
		where = " WHERE app_id = $1"
		args = append(args, appID)
	}

	var stats models.Stats
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&stats.TotalEvents); err != nil {
		return models.Stats{}, err
	}
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&stats.TotalUsers); err != nil {
		return models.Stats{}, err
	}
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions").Scan(&stats.TotalSessions); err != nil {
		return models.Stats{}, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT event_name, COUNT(*) AS count
		FROM events`+where+`
		GROUP BY event_name
		ORDER BY count DESC
	`, args...)
	if err != nil {
		return models.Stats{}, err
	}
	stats.EventsByType = []models.TypeCount{}
	for rows.Next() {
		var tc models.TypeCount
		if err := rows.Scan(&tc.EventName, &tc.Count); err != nil {
			rows.Close()
			return models.Stats{}, err
		}
		stats.EventsByType = append(stats.EventsByType, tc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Stats{}, err
	}

	rows, err = p.pool.Query(ctx, `
		SELECT COALESCE(url,''), COUNT(*) AS count
		FROM events`+where+`
		GROUP BY url
		ORDER BY count DESC
		LIMIT 10
	`, args...)
	if err != nil {
		return models.Stats{}, err
	}
	stats.TopPages = []models.PageCount{}
	for rows.Next() {
		var pc models.PageCount
		if err := rows.Scan(&pc.URL, &pc.Count); err != nil {
			rows.Close()
			return models.Stats{}, err
		}
		stats.TopPages = append(stats.TopPages, pc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Stats{}, err
	}

	return stats, nil
}

// SearchUsers returns up to 20 users whose distinct_id contains q, most
// recently seen first.
func (p *PostgresStore) SearchUsers(ctx context.Context, q string) ([]models.User, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT distinct_id, first_seen, last_seen, total_events
		FROM users
		WHERE distinct_id LIKE '%' || $1 || '%'
		ORDER BY last_seen DESC
		LIMIT 20
	`, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.DistinctID, &u.FirstSeen, &u.LastSeen, &u.TotalEvents); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// journeyEventCap bounds the per-user event listing in a journey.
const journeyEventCap = 1000

// UserJourney returns the full picture for one distinct_id: the user rollup
// (nil when never seen), all sessions and recent events, newest first.
func (p *PostgresStore) UserJourney(ctx context.Context, distinctID string) (models.Journey, error) {
	journey := models.Journey{Sessions: []models.Session{}, Events: []models.StoredEvent{}}

	var u models.User
	err := p.pool.QueryRow(ctx, `
		SELECT distinct_id, first_seen, last_seen, total_events
		FROM users WHERE distinct_id = $1
	`, distinctID).Scan(&u.DistinctID, &u.FirstSeen, &u.LastSeen, &u.TotalEvents)
	switch {
	case err == nil:
		journey.User = &u
	case errors.Is(err, pgx.ErrNoRows):
		// no rollup yet; sessions/events may still be empty below
	default:
		return models.Journey{}, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT session_id, COALESCE(distinct_id,''), start_time, end_time, event_count
		FROM sessions
		WHERE distinct_id = $1
		ORDER BY start_time DESC
	`, distinctID)
	if err != nil {
		return models.Journey{}, err
	}
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.SessionID, &s.DistinctID, &s.StartTime, &s.EndTime, &s.EventCount); err != nil {
			rows.Close()
			return models.Journey{}, err
		}
		journey.Sessions = append(journey.Sessions, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Journey{}, err
	}

	rows, err = p.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM events WHERE distinct_id = $1 ORDER BY timestamp DESC LIMIT %d",
			eventColumns, journeyEventCap), distinctID)
	if err != nil {
		return models.Journey{}, err
	}
	journey.Events, err = scanEvents(rows)
	if err != nil {
		return models.Journey{}, err
	}

	return journey, nil
}

// Apps returns the per-app rollup, most recently active first. Events with no
// app_id are excluded.
func (p *PostgresStore) Apps(ctx context.Context) ([]models.AppSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT app_id,
		       COUNT(*) AS total_events,
		       COUNT(DISTINCT distinct_id) AS total_users,
		       MAX(timestamp) AS last_activity
		FROM events
		WHERE app_id IS NOT NULL
		GROUP BY app_id
		ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := []models.AppSummary{}
	for rows.Next() {
		var a models.AppSummary
		if err := rows.Scan(&a.AppID, &a.TotalEvents, &a.TotalUsers, &a.LastActivity); err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}
