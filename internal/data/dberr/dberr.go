// Package dberr maps primary-store failures onto the shared projection
// error codes, so callers branch on semantics instead of driver details.
package dberr

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/nexevent/participation-backend/internal/domain/projection"
)

// Map classifies err under op. Errors already carrying a projection code
// pass through untouched.
func Map(op string, err error) error {
	if err == nil {
		return nil
	}
	var projErr *projection.Error
	if errors.As(err, &projErr) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return projection.Wrap(projection.CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return projection.Wrap(projection.CodeRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505": // unique_violation
			return projection.Wrap(projection.CodeConflict, op, err)
		case "23503": // foreign_key_violation
			return projection.Wrap(projection.CodeInvariantViolation, op, err)
		case "40001", "40P01", "55P03": // serialization/deadlock/lock_not_available
			return projection.Wrap(projection.CodeRetryable, op, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "already exists"):
		return projection.Wrap(projection.CodeConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporar"):
		return projection.Wrap(projection.CodeRetryable, op, err)
	default:
		return projection.Wrap(projection.CodeInternal, op, err)
	}
}
