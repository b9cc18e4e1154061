package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/model"
)

// Resources handles GET /v1/events/:event/resources.
func (h *Handler) Resources(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	st, err := h.Inventory.Status(c.Request().Context(), eventID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "resources": st})
}

type defineReq struct {
	Total        *int `json:"total"`
	LowThreshold int  `json:"low_threshold"`
}

// DefineResource handles PUT /v1/events/:event/resources/:resource and
// creates the resource or replaces its capacity.
func (h *Handler) DefineResource(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	rt, ok := model.ParseResourceType(c.Param("resource"))
	if !ok {
		return h.fail(c, apperrors.Newf(apperrors.CodeValidation, "invalid resource type %q", c.Param("resource")))
	}
	var body defineReq
	if err := c.Bind(&body); err != nil {
		return h.fail(c, apperrors.New(apperrors.CodeValidation, "invalid request body"))
	}
	if body.Total == nil {
		return h.fail(c, apperrors.New(apperrors.CodeValidation, "total is required"))
	}
	st, err := h.Inventory.Define(c.Request().Context(), eventID, rt, *body.Total, body.LowThreshold)
	if err != nil {
		return h.fail(c, err)
	}
	h.Cache.InvalidateEvent(c.Request().Context(), eventID)
	return c.JSON(http.StatusOK, st)
}

type thresholdReq struct {
	LowThreshold *int `json:"low_threshold"`
}

// SetThreshold handles PATCH /v1/events/:event/resources/id/:id/threshold.
func (h *Handler) SetThreshold(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var body thresholdReq
	if err := c.Bind(&body); err != nil || body.LowThreshold == nil {
		return h.fail(c, apperrors.New(apperrors.CodeValidation, "low_threshold is required"))
	}
	st, err := h.Inventory.SetLowThreshold(c.Request().Context(), eventID, id, *body.LowThreshold)
	if err != nil {
		return h.fail(c, err)
	}
	h.Cache.InvalidateEvent(c.Request().Context(), eventID)
	return c.JSON(http.StatusOK, st)
}
