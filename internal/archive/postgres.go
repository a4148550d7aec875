// Package archive persists fetched charging sessions into Postgres so that
// history survives backend restarts and dashboard sessions.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"evdash/internal/things"
)

const (
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 2
	defaultConnLifetime = time.Hour
	defaultPingTimeout  = 5 * time.Second
	saveTimeout         = 10 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS charging_sessions (
    session_id            TEXT PRIMARY KEY,
    charger_name          TEXT,
    charger_serial_number TEXT,
    car_name              TEXT,
    started_at            TIMESTAMPTZ,
    ended_at              TIMESTAMPTZ,
    energy_kwh            DOUBLE PRECISION,
    energy_start_kwh      DOUBLE PRECISION,
    energy_end_kwh        DOUBLE PRECISION,
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSession = `
INSERT INTO charging_sessions
    (session_id, charger_name, charger_serial_number, car_name, started_at, ended_at, energy_kwh, energy_start_kwh, energy_end_kwh, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (session_id) DO UPDATE SET
    charger_name          = EXCLUDED.charger_name,
    charger_serial_number = EXCLUDED.charger_serial_number,
    car_name              = EXCLUDED.car_name,
    started_at            = EXCLUDED.started_at,
    ended_at              = EXCLUDED.ended_at,
    energy_kwh            = EXCLUDED.energy_kwh,
    energy_start_kwh      = EXCLUDED.energy_start_kwh,
    energy_end_kwh        = EXCLUDED.energy_end_kwh,
    updated_at            = now()`

// Postgres is a charging-session archive backed by a pgx/stdlib pool.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgres opens the pool, validates the connection and ensures the schema.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("archive: empty DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Postgres{db: db, logger: logger}, nil
}

// SaveSessions upserts every session carrying an identifier. Designed as an
// OnSessions sink: failures are logged, never propagated into the sync path.
func (p *Postgres) SaveSessions(sessions []things.Thing) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	saved := 0
	for _, session := range sessions {
		id := stringField(session, "sessionId")
		if id == "" {
			continue
		}

		energy, okEnergy := floatField(session, "sessionEnergy")
		if !okEnergy {
			// Older backends only report the meter range.
			start, okStart := floatField(session, "energyStart")
			end, okEnd := floatField(session, "energyEnd")
			if okStart && okEnd {
				energy = end - start
				okEnergy = true
			}
		}

		_, err := p.db.ExecContext(ctx, upsertSession,
			id,
			nullString(stringField(session, "chargerName")),
			nullString(stringField(session, "chargerSerialNumber")),
			nullString(stringField(session, "carName")),
			nullTime(timeField(session, "startTimestamp")),
			nullTime(timeField(session, "endTimestamp")),
			nullFloat(energy, okEnergy),
			nullFloatField(session, "energyStart"),
			nullFloatField(session, "energyEnd"),
		)
		if err != nil {
			p.logger.Warn("failed to archive charging session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		saved++
	}

	if saved > 0 {
		p.logger.Debug("charging sessions archived", zap.Int("count", saved))
	}
}

// Close releases the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func stringField(t things.Thing, key string) string {
	if v, ok := t[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func floatField(t things.Thing, key string) (float64, bool) {
	switch v := t[key].(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// timeField decodes a timestamp sent either as unix seconds or milliseconds.
func timeField(t things.Thing, key string) (time.Time, bool) {
	value, ok := floatField(t, key)
	if !ok {
		return time.Time{}, false
	}
	if value > 1e12 {
		return time.UnixMilli(int64(value)).UTC(), true
	}
	return time.Unix(int64(value), 0).UTC(), true
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullFloat(v float64, ok bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func nullFloatField(t things.Thing, key string) sql.NullFloat64 {
	v, ok := floatField(t, key)
	return nullFloat(v, ok)
}

func nullTime(v time.Time, ok bool) sql.NullTime {
	return sql.NullTime{Time: v, Valid: ok}
}
