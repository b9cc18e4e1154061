package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/service"
)

// CacheInvalidator drops cached responses of an event after an
// administrative change.
type CacheInvalidator interface {
	InvalidateEvent(ctx context.Context, eventID uint64)
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateEvent(context.Context, uint64) {}

// Handler bundles the services behind the /v1 API.  All methods assume
// StaffAuth and RequireRole have already run.
type Handler struct {
	Ledger         *service.Ledger
	Inventory      *service.Inventory
	Importer       *service.Importer
	Cache          CacheInvalidator
	MaxImportBytes int64
	Logger         *slog.Logger
}

// New constructs a Handler and panics if a service is missing.
func New(ledger *service.Ledger, inv *service.Inventory, im *service.Importer, cache CacheInvalidator,
	maxImportBytes int64, logger *slog.Logger) *Handler {
	if ledger == nil || inv == nil || im == nil {
		panic("nil service passed to handler.New")
	}
	if cache == nil {
		cache = nopInvalidator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxImportBytes <= 0 {
		maxImportBytes = 10 << 20
	}
	return &Handler{
		Ledger:         ledger,
		Inventory:      inv,
		Importer:       im,
		Cache:          cache,
		MaxImportBytes: maxImportBytes,
		Logger:         logger,
	}
}

// statusOf maps an error code to an HTTP status.
func statusOf(code apperrors.Code) int {
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeCredential:
		return http.StatusUnauthorized
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeDuplicate, apperrors.CodeStateConflict:
		return http.StatusConflict
	case apperrors.CodeDepleted:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"error", "code"}.  Errors without a code are logged
// and reported as a generic 500.
func (h *Handler) fail(c echo.Context, err error) error {
	code := apperrors.CodeOf(err)
	if code == "" {
		h.Logger.Error("unhandled error", "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if code == apperrors.CodePersistence {
		h.Logger.Error("request failed", "path", c.Path(), "err", err)
	}
	return c.JSON(statusOf(code), echo.Map{"error": apperrors.MessageOf(err), "code": code})
}

func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.Newf(apperrors.CodeValidation, "invalid %s id", name)
	}
	return id, nil
}

func isMaxBytes(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
