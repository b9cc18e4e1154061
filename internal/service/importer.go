package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/credential"
	"github.com/iliyamo/event-credentials/internal/metrics"
	"github.com/iliyamo/event-credentials/internal/model"
	"github.com/iliyamo/event-credentials/internal/queue"
	"github.com/iliyamo/event-credentials/internal/repository"
)

// Row classifications reported in ImportReport.Errors.
const (
	KindInvalid   = "invalid"
	KindDuplicate = "duplicate"
	KindFailed    = "failed"
)

const (
	DefaultNotifyBatch = 10
	DefaultNotifyDelay = 250 * time.Millisecond
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ImportRow is one attendee candidate.  Line is the source line used in
// diagnostics.
type ImportRow struct {
	Line    int
	Name    string
	Email   string
	Phone   string
	Role    string
	Company string
	Title   string
	Tags    []string
	Notes   string
	Event   string
}

// ImportRequest is a batch for one event.  Notify triggers credential
// delivery for every row that was persisted.
type ImportRequest struct {
	EventID uint64
	Rows    []ImportRow
	Notify  bool
}

// ImportStats counts rows per outcome.
type ImportStats struct {
	TotalProcessed int `json:"totalProcessed"`
	Successful     int `json:"successful"`
	Duplicates     int `json:"duplicates"`
	Invalid        int `json:"invalid"`
	Failed         int `json:"failed"`
}

// RowError describes one skipped row.
type RowError struct {
	Line  int    `json:"line"`
	Email string `json:"email,omitempty"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// ImportReport is the result of one Import call.
type ImportReport struct {
	Success        bool        `json:"success"`
	Message        string      `json:"message"`
	Stats          ImportStats `json:"stats"`
	Errors         []RowError  `json:"errors"`
	NotifyFailures int         `json:"notifyFailures,omitempty"`
}

// Admission is a persisted attendee with the token issued for it.
type Admission struct {
	Attendee *model.Attendee  `json:"attendee"`
	Token    credential.Token `json:"token"`
}

// Importer admits attendees, either in bulk or one at a time.  Every
// admitted attendee gets a freshly minted identifier and token.
type Importer struct {
	store       repository.Store
	issuer      *credential.Issuer
	deliverer   Deliverer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	notifyBatch int
	notifyDelay time.Duration
	now         func() time.Time
}

// NewImporter returns an Importer; a nil deliverer disables delivery.
func NewImporter(store repository.Store, issuer *credential.Issuer, deliverer Deliverer,
	logger *slog.Logger, m *metrics.Metrics, notifyBatch int, notifyDelay time.Duration) *Importer {
	if deliverer == nil {
		deliverer = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifyBatch <= 0 {
		notifyBatch = DefaultNotifyBatch
	}
	if notifyDelay < 0 {
		notifyDelay = 0
	}
	return &Importer{
		store:       store,
		issuer:      issuer,
		deliverer:   deliverer,
		logger:      logger,
		metrics:     m,
		notifyBatch: notifyBatch,
		notifyDelay: notifyDelay,
		now:         time.Now,
	}
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// validateRow checks required fields, the email pattern and, when the row
// names an event, that it matches the batch's event.
func validateRow(row ImportRow, eventID uint64) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", row.Name}, {"email", row.Email}, {"phone", row.Phone}, {"role", row.Role},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperrors.Newf(apperrors.CodeValidation, "missing required field(s): %s", strings.Join(missing, ", "))
	}
	if !emailPattern.MatchString(normalizeEmail(row.Email)) {
		return apperrors.Newf(apperrors.CodeValidation, "invalid email %q", strings.TrimSpace(row.Email))
	}
	if ev := strings.TrimSpace(row.Event); ev != "" && ev != strconv.FormatUint(eventID, 10) {
		return apperrors.Newf(apperrors.CodeValidation, "row belongs to event %q", ev)
	}
	return nil
}

type staged struct {
	row  ImportRow
	cred credential.Credential
}

// Import processes the batch in input order: validate, drop intra-batch
// duplicates, drop emails already registered, issue a credential and
// stage.  Staged rows are then persisted one transaction each, so a
// failing row never takes the others down; a unique-key race at insert
// time is reported as a duplicate.  Row problems are collected in the
// report and never abort the batch.
func (im *Importer) Import(ctx context.Context, req ImportRequest) (*ImportReport, error) {
	if req.EventID == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "event id required")
	}
	report := &ImportReport{Errors: make([]RowError, 0)}
	report.Stats.TotalProcessed = len(req.Rows)

	reject := func(row ImportRow, kind, msg string) {
		report.Errors = append(report.Errors, RowError{Line: row.Line, Email: strings.TrimSpace(row.Email), Kind: kind, Error: msg})
		switch kind {
		case KindInvalid:
			report.Stats.Invalid++
		case KindDuplicate:
			report.Stats.Duplicates++
		default:
			report.Stats.Failed++
		}
	}

	invalid := make([]error, len(req.Rows))
	candidates := make([]string, 0, len(req.Rows))
	for i, row := range req.Rows {
		if invalid[i] = validateRow(row, req.EventID); invalid[i] == nil {
			candidates = append(candidates, normalizeEmail(row.Email))
		}
	}
	existing, err := im.store.Stores().Attendees.ExistingEmails(ctx, req.EventID, candidates)
	if err != nil {
		return nil, persistenceError(im.logger, "import duplicate lookup", err)
	}

	seen := make(map[string]int, len(req.Rows))
	stage := make([]staged, 0, len(req.Rows))
	for i, row := range req.Rows {
		if invalid[i] != nil {
			reject(row, KindInvalid, apperrors.MessageOf(invalid[i]))
			continue
		}
		email := normalizeEmail(row.Email)
		if first, dup := seen[email]; dup {
			reject(row, KindDuplicate, fmt.Sprintf("duplicate of line %d in this batch", first))
			continue
		}
		seen[email] = row.Line
		if existing[email] {
			reject(row, KindDuplicate, "email already registered for this event")
			continue
		}
		cred, err := im.issuer.Issue(email, strings.TrimSpace(row.Name))
		if err != nil {
			im.logger.Error("credential issuance failed", "line", row.Line, "err", err)
			reject(row, KindFailed, "credential issuance failed")
			continue
		}
		row.Email = email
		stage = append(stage, staged{row: row, cred: cred})
	}

	admitted := make([]Admission, 0, len(stage))
	for _, st := range stage {
		if ctx.Err() != nil {
			reject(st.row, KindFailed, "import cancelled before this row was stored")
			continue
		}
		a, err := im.persist(ctx, req.EventID, st)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			reject(st.row, KindDuplicate, "email already registered for this event")
		case err != nil:
			im.logger.Error("import row insert failed", "line", st.row.Line, "err", err)
			reject(st.row, KindFailed, "could not store attendee")
		default:
			admitted = append(admitted, Admission{Attendee: a, Token: st.cred.Token})
		}
	}
	report.Stats.Successful = len(admitted)

	im.metrics.ImportRow("successful", report.Stats.Successful)
	im.metrics.ImportRow(KindDuplicate, report.Stats.Duplicates)
	im.metrics.ImportRow(KindInvalid, report.Stats.Invalid)
	im.metrics.ImportRow(KindFailed, report.Stats.Failed)

	if req.Notify && len(admitted) > 0 {
		report.NotifyFailures = im.deliver(ctx, req.EventID, admitted)
	}

	report.Success = report.Stats.Failed == 0
	report.Message = fmt.Sprintf("imported %d of %d rows (%d duplicates, %d invalid, %d failed)",
		report.Stats.Successful, report.Stats.TotalProcessed, report.Stats.Duplicates, report.Stats.Invalid, report.Stats.Failed)
	im.logger.Info("import finished", "event_id", req.EventID, "total", report.Stats.TotalProcessed,
		"successful", report.Stats.Successful, "duplicates", report.Stats.Duplicates,
		"invalid", report.Stats.Invalid, "failed", report.Stats.Failed, "notify_failures", report.NotifyFailures)
	return report, nil
}

func (im *Importer) persist(ctx context.Context, eventID uint64, st staged) (*model.Attendee, error) {
	a := &model.Attendee{
		EventID:      eventID,
		Name:         strings.TrimSpace(st.row.Name),
		Email:        st.row.Email,
		Phone:        strings.TrimSpace(st.row.Phone),
		Role:         strings.TrimSpace(st.row.Role),
		Company:      st.row.Company,
		Title:        st.row.Title,
		Tags:         st.row.Tags,
		Notes:        st.row.Notes,
		CredentialID: st.cred.ID,
		Claims:       map[model.ResourceType]model.ClaimState{},
	}
	err := im.store.RunInTx(ctx, func(s repository.Stores) error {
		if err := s.Attendees.Create(ctx, a); err != nil {
			return err
		}
		return s.Activity.Append(ctx, &model.Activity{
			EventID:    eventID,
			AttendeeID: a.ID,
			Action:     model.ActionAdmitted,
			Assurance:  model.AssuranceOperator,
			CreatedAt:  im.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// deliver publishes a credential.issued message per admission in batches
// of notifyBatch concurrent publishes, pausing notifyDelay between
// batches.  It returns the number of deliveries that failed; failures
// are logged and never change the import result.
func (im *Importer) deliver(ctx context.Context, eventID uint64, admitted []Admission) int {
	var failures atomic.Int64
	for start := 0; start < len(admitted); start += im.notifyBatch {
		if start > 0 && im.notifyDelay > 0 {
			select {
			case <-ctx.Done():
				n := len(admitted) - start
				im.logger.Warn("credential delivery cancelled", "event_id", eventID, "skipped", n)
				return int(failures.Load()) + n
			case <-time.After(im.notifyDelay):
			}
		}
		end := min(start+im.notifyBatch, len(admitted))
		var g errgroup.Group
		for _, ad := range admitted[start:end] {
			g.Go(func() error {
				msg := queue.CredentialIssuedEvent{
					EventID:    eventID,
					AttendeeID: ad.Attendee.ID,
					Name:       ad.Attendee.Name,
					Email:      ad.Attendee.Email,
					Token:      ad.Token.Value,
					ExpiresAt:  ad.Token.ExpiresAt,
				}
				if err := im.deliverer.Publish(ctx, msg); err != nil {
					im.logger.Warn("credential delivery failed", "event_id", eventID, "attendee_id", ad.Attendee.ID, "err", err)
					im.metrics.Notification("failed")
					failures.Add(1)
					return nil
				}
				im.metrics.Notification("sent")
				return nil
			})
		}
		_ = g.Wait()
	}
	return int(failures.Load())
}

// Admit is the single-record admission path.  It applies the same
// validation and issuance as a bulk row; an email already registered is
// a duplicate error.
func (im *Importer) Admit(ctx context.Context, eventID uint64, row ImportRow, notify bool) (*Admission, error) {
	if eventID == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "event id required")
	}
	if err := validateRow(row, eventID); err != nil {
		return nil, err
	}
	row.Email = normalizeEmail(row.Email)
	cred, err := im.issuer.Issue(row.Email, strings.TrimSpace(row.Name))
	if err != nil {
		return nil, err
	}
	a, err := im.persist(ctx, eventID, staged{row: row, cred: cred})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperrors.New(apperrors.CodeDuplicate, "email already registered for this event")
	}
	if err != nil {
		return nil, persistenceError(im.logger, "admit attendee", err)
	}
	ad := &Admission{Attendee: a, Token: cred.Token}
	if notify {
		im.deliver(ctx, eventID, []Admission{*ad})
	}
	return ad, nil
}

// Reissue seals a fresh token for an existing attendee.  The stored
// identifier does not change.
func (im *Importer) Reissue(ctx context.Context, eventID, attendeeID uint64) (*Admission, error) {
	a, err := im.store.Stores().Attendees.GetByID(ctx, eventID, attendeeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "attendee not found")
	}
	if err != nil {
		return nil, persistenceError(im.logger, "load attendee", err)
	}
	tok, err := im.issuer.SealToken(a.CredentialID)
	if err != nil {
		return nil, err
	}
	return &Admission{Attendee: a, Token: tok}, nil
}
