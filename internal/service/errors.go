package service

import (
	"log/slog"

	"github.com/iliyamo/event-credentials/internal/apperrors"
)

// persistenceError passes domain errors through unchanged and wraps
// anything else (driver errors, timeouts, failed commits) as a
// persistence failure.  The transaction has been rolled back by then, so
// the caller can treat it as "no state change occurred".
func persistenceError(logger *slog.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.CodeOf(err) != "" {
		return err
	}
	logger.Error("transaction failed", "op", op, "err", err)
	return apperrors.Wrap(err, apperrors.CodePersistence, op+" failed, no state change occurred")
}
