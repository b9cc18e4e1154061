package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/credential"
	"github.com/iliyamo/event-credentials/internal/service"
)

// GetAttendee handles GET /v1/events/:event/attendees/:id.
func (h *Handler) GetAttendee(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	a, err := h.Ledger.Attendee(c.Request().Context(), eventID, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// History handles GET /v1/events/:event/attendees/:id/history and lists
// the attendee's admission, check-in and claim activities oldest first.
func (h *Handler) History(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	acts, err := h.Ledger.History(c.Request().Context(), eventID, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"attendee_id": id, "activities": acts})
}

// QRCode handles GET /v1/events/:event/attendees/:id/qr.  A fresh token
// is sealed for the stored identifier on every call and rendered as PNG.
// The optional size query parameter sets the edge length in pixels.
func (h *Handler) QRCode(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	size := credential.DefaultQRSize
	if s := c.QueryParam("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 64 || n > 1024 {
			return h.fail(c, apperrors.New(apperrors.CodeValidation, "size must be between 64 and 1024"))
		}
		size = n
	}
	ad, err := h.Importer.Reissue(c.Request().Context(), eventID, id)
	if err != nil {
		return h.fail(c, err)
	}
	png, err := credential.QRCode(ad.Token.Value, size)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("X-Token-Expires-At", ad.Token.ExpiresAt.UTC().Format(time.RFC3339))
	return c.Blob(http.StatusOK, "image/png", png)
}

type admitReq struct {
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Phone   string   `json:"phone"`
	Role    string   `json:"role"`
	Company string   `json:"company"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Notes   string   `json:"notes"`
	Notify  bool     `json:"notify"`
}

// Admit handles POST /v1/events/:event/attendees.  It returns 201 with the
// stored attendee and its token, or 409 when the email is taken.
func (h *Handler) Admit(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	var body admitReq
	if err := c.Bind(&body); err != nil {
		return h.fail(c, apperrors.New(apperrors.CodeValidation, "invalid request body"))
	}
	ad, err := h.Importer.Admit(c.Request().Context(), eventID, service.ImportRow{
		Name:    body.Name,
		Email:   body.Email,
		Phone:   body.Phone,
		Role:    body.Role,
		Company: body.Company,
		Title:   body.Title,
		Tags:    body.Tags,
		Notes:   body.Notes,
	}, body.Notify)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, ad)
}
