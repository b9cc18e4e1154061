package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/credential"
	"github.com/iliyamo/event-credentials/internal/middleware"
	"github.com/iliyamo/event-credentials/internal/model"
	"github.com/iliyamo/event-credentials/internal/service"
)

const dateLayout = "2006-01-02"

// scanReq is the body of check-in and claim requests.  Exactly one of
// Token (a QR scan) or Identifier (manual entry) must be set.
type scanReq struct {
	Token      string `json:"token"`
	Identifier string `json:"identifier"`
	Location   string `json:"location"`
	Date       string `json:"date"`
}

func (r scanReq) presentation() (credential.Presentation, error) {
	token, ident := strings.TrimSpace(r.Token), strings.TrimSpace(r.Identifier)
	switch {
	case token != "" && ident != "":
		return nil, apperrors.New(apperrors.CodeValidation, "provide either token or identifier, not both")
	case token != "":
		return credential.Scanned{Token: token}, nil
	case ident != "":
		return credential.Manual{Identifier: ident}, nil
	}
	return nil, apperrors.New(apperrors.CodeValidation, "token or identifier is required")
}

func (r scanReq) day() (*time.Time, error) {
	if strings.TrimSpace(r.Date) == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, strings.TrimSpace(r.Date))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, "date must be YYYY-MM-DD")
	}
	return &d, nil
}

func bindScan(c echo.Context) (scanReq, credential.Presentation, *time.Time, error) {
	var body scanReq
	if err := c.Bind(&body); err != nil {
		return body, nil, nil, apperrors.New(apperrors.CodeValidation, "invalid request body")
	}
	p, err := body.presentation()
	if err != nil {
		return body, nil, nil, err
	}
	day, err := body.day()
	if err != nil {
		return body, nil, nil, err
	}
	return body, p, day, nil
}

// CheckIn handles POST /v1/events/:event/checkin.  A replay returns 200
// with "duplicate": true and the original check-in time.
func (h *Handler) CheckIn(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	body, p, day, err := bindScan(c)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.Ledger.CheckIn(c.Request().Context(), service.CheckInRequest{
		EventID:      eventID,
		Presentation: p,
		StaffID:      middleware.StaffID(c),
		Location:     strings.TrimSpace(body.Location),
		Day:          day,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Claim handles POST /v1/events/:event/claims/:resource.  An exhausted
// resource yields 410; a replay returns 200 with "duplicate": true.
func (h *Handler) Claim(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	rt, ok := model.ParseResourceType(c.Param("resource"))
	if !ok {
		return h.fail(c, apperrors.Newf(apperrors.CodeValidation, "unknown resource type %q", c.Param("resource")))
	}
	body, p, day, err := bindScan(c)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.Ledger.Claim(c.Request().Context(), service.ClaimRequest{
		EventID:      eventID,
		Resource:     rt,
		Presentation: p,
		StaffID:      middleware.StaffID(c),
		Location:     strings.TrimSpace(body.Location),
		Day:          day,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
