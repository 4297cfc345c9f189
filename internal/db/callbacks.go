/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/telemetry"
)

const startedAtKey = "kith:started_at"

// SlowQueryThreshold is the duration above which a statement is logged at warn level.
var SlowQueryThreshold = 250 * time.Millisecond

type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// RegisterCallbacks times every statement gorm runs, records Prometheus metrics and logs
// slow statements.
func RegisterCallbacks(db *gorm.DB, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "db").Logger()
	cb := db.Callback()
	hooks := []struct {
		op            string
		before, after registrar
	}{
		{"query", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query")},
		{"create", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create")},
		{"update", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update")},
		{"delete", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete")},
		{"row", cb.Row().Before("gorm:row"), cb.Row().After("gorm:row")},
		{"raw", cb.Raw().Before("gorm:raw"), cb.Raw().After("gorm:raw")},
	}
	for _, h := range hooks {
		if err := h.before.Register("telemetry:before_"+h.op, markStart); err != nil {
			return err
		}
		if err := h.after.Register("telemetry:after_"+h.op, observe(h.op, logger)); err != nil {
			return err
		}
	}
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startedAtKey, time.Now())
}

func observe(op string, logger zerolog.Logger) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startedAtKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(started)

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(op, table).Observe(elapsed.Seconds())

		if err := db.Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			kind := "query_error"
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				kind = "duplicate_key"
			}
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, kind).Inc()
		}

		if elapsed >= SlowQueryThreshold {
			logger.Warn().
				Str("operation", op).
				Str("table", table).
				Dur("elapsed", elapsed).
				Int64("rows", db.RowsAffected).
				Msg("slow database statement")
		}
	}
}

// UpdateConnectionMetrics refreshes the open connection gauge. The server calls it periodically.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
