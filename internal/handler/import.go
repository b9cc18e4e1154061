package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/service"
)

// Import handles POST /v1/events/:event/import.  The CSV arrives either as
// the "file" field of a multipart form or as a raw text/csv body, capped
// at MaxImportBytes.  ?notify=true delivers credentials for every stored
// row.  Row-level problems are part of the 200 report; only a batch that
// cannot be read at all is rejected.
func (h *Handler) Import(c echo.Context) error {
	eventID, err := parseID(c, "event")
	if err != nil {
		return h.fail(c, err)
	}
	notify := false
	if v := c.QueryParam("notify"); v != "" {
		if notify, err = strconv.ParseBool(v); err != nil {
			return h.fail(c, apperrors.New(apperrors.CodeValidation, "notify must be a boolean"))
		}
	}

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, h.MaxImportBytes)

	var src io.Reader
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			if isMaxBytes(err) {
				return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "file too large"})
			}
			return h.fail(c, apperrors.New(apperrors.CodeValidation, "multipart field \"file\" is required"))
		}
		f, err := fh.Open()
		if err != nil {
			return h.fail(c, apperrors.Wrap(err, apperrors.CodeValidation, "cannot open uploaded file"))
		}
		defer f.Close()
		src = f
	} else {
		src = req.Body
	}

	rows, err := service.ParseCSV(src)
	if err != nil {
		if isMaxBytes(err) {
			return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "file too large"})
		}
		return h.fail(c, err)
	}
	report, err := h.Importer.Import(req.Context(), service.ImportRequest{EventID: eventID, Rows: rows, Notify: notify})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
