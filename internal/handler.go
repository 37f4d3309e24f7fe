package formrelay

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

const (
	// room for the text fields and multipart framing around the resume
	multipartOverhead int64 = 1 << 20
	maxFormBytes      int64 = 1 << 20
	multipartMemory   int64 = 8 << 20

	careerFailMessage  = "Error submitting application"
	contactFailMessage = "Error sending message"
)

// Relay serves the form, admin and upload endpoints. All state is injected.
type Relay struct {
	ledger     *Ledger
	mailer     Mailer
	intake     *Intake
	stats      StatsStore
	careerTo   string
	contactTo  string
	adminToken string
	now        func() time.Time
}

type RelayOption func(*Relay)

func WithRecipients(career, contact string) RelayOption {
	return func(rl *Relay) {
		rl.careerTo = career
		rl.contactTo = contact
	}
}

func WithStats(store StatsStore) RelayOption {
	return func(rl *Relay) { rl.stats = store }
}

// WithAdminToken protects the admin endpoints with a bearer token. Empty
// leaves them open.
func WithAdminToken(token string) RelayOption {
	return func(rl *Relay) { rl.adminToken = token }
}

func WithClock(now func() time.Time) RelayOption {
	return func(rl *Relay) { rl.now = now }
}

func NewRelay(ledger *Ledger, mailer Mailer, intake *Intake, opts ...RelayOption) *Relay {
	rl := &Relay{
		ledger:    ledger,
		mailer:    mailer,
		intake:    intake,
		careerTo:  "hr@areta360.com",
		contactTo: "admin@areta360.com",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Routes registers every endpoint on a fresh chi router.
func (rl *Relay) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/api/health", HandleHealth)

	r.Post("/api/career-form", rl.HandleCareer)
	r.Post("/career-form", rl.HandleCareer)
	r.Post("/api/blog-form", rl.HandleContact)

	r.Group(func(r chi.Router) {
		r.Use(rl.requireAdmin)
		r.Get("/api/email-limit/{email}", rl.HandleEmailLimit)
		r.Get("/api/all-email-counts", rl.HandleAllCounts)
		r.Post("/api/reset-email-limits", rl.HandleReset)
		if ms, ok := rl.stats.(*MemoryStatsStore); ok {
			r.Get("/api/submission-stats", func(w http.ResponseWriter, r *http.Request) {
				render.JSON(w, r, ms.Summary())
			})
		}
	})

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(rl.intake.Dir()))))

	return r
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// HandleCareer relays a career application with an optional resume.
func (rl *Relay) HandleCareer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, rl.intake.MaxBytes()+multipartOverhead)
	sub, fh, err := parseSubmission(r, "resume", rl.intake.MaxBytes())
	if err != nil {
		writeError(w, r, err, careerFailMessage)
		return
	}

	var upload *Upload
	if fh != nil {
		if upload, err = rl.intake.Accept(fh); err != nil {
			writeError(w, r, err, careerFailMessage)
			return
		}
	}
	defer upload.Release(ctx)

	dec := rl.ledger.CheckAndRecord(sub.Email, rl.now())
	rl.recordStats(ctx, FormCareer, sub.Email, dec.Allowed)
	if !dec.Allowed {
		writeError(w, r, &RateLimitError{
			Limit:           rl.ledger.Limit(),
			Noun:            "applications",
			HoursUntilReset: dec.HoursUntilReset,
		}, careerFailMessage)
		return
	}
	logger.Info("career submission accepted", zap.String("email", sub.Email), zap.Int("remaining", dec.Remaining), zap.Bool("resume", upload != nil))

	body, err := renderBody(CareerSubject, sub, upload != nil)
	if err != nil {
		writeError(w, r, fmt.Errorf("render message: %w", err), careerFailMessage)
		return
	}
	msg := Message{To: rl.careerTo, ReplyTo: replyTo(sub.Email), Subject: CareerSubject, HTML: body}
	if upload != nil {
		msg.AttachmentPath = upload.Path
	}

	res, err := rl.mailer.Send(ctx, SenderHR, msg)
	if err != nil {
		writeError(w, r, err, careerFailMessage)
		return
	}
	logger.Info("career application relayed", zap.String("to", rl.careerTo), zap.String("message_id", res.MessageID))

	render.JSON(w, r, map[string]string{"message": "Application submitted successfully"})
}

// HandleContact relays a contact/blog inquiry.
func (rl *Relay) HandleContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	sub, _, err := parseSubmission(r, "", maxFormBytes)
	if err != nil {
		writeError(w, r, err, contactFailMessage)
		return
	}

	dec := rl.ledger.CheckAndRecord(sub.Email, rl.now())
	rl.recordStats(ctx, FormContact, sub.Email, dec.Allowed)
	if !dec.Allowed {
		writeError(w, r, &RateLimitError{
			Limit:           rl.ledger.Limit(),
			Noun:            "messages",
			HoursUntilReset: dec.HoursUntilReset,
		}, contactFailMessage)
		return
	}
	logger.Info("contact submission accepted", zap.String("email", sub.Email), zap.Int("remaining", dec.Remaining))

	body, err := renderBody(ContactSubject, sub, false)
	if err != nil {
		writeError(w, r, fmt.Errorf("render message: %w", err), contactFailMessage)
		return
	}

	res, err := rl.mailer.Send(ctx, SenderAdmin, Message{
		To:      rl.contactTo,
		ReplyTo: replyTo(sub.Email),
		Subject: ContactSubject,
		HTML:    body,
	})
	if err != nil {
		writeError(w, r, err, contactFailMessage)
		return
	}
	logger.Info("contact message relayed", zap.String("to", rl.contactTo), zap.String("message_id", res.MessageID))

	render.JSON(w, r, map[string]string{"message": "Message sent successfully"})
}

func (rl *Relay) HandleEmailLimit(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "email")
	if unescaped, err := url.PathUnescape(identity); err == nil {
		identity = unescaped
	}
	render.JSON(w, r, rl.ledger.Query(identity, rl.now()))
}

func (rl *Relay) HandleAllCounts(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, rl.ledger.Snapshot())
}

func (rl *Relay) HandleReset(w http.ResponseWriter, r *http.Request) {
	rl.ledger.ResetAll()
	LoggerFromContext(r.Context()).Info("email submission counts reset")
	render.JSON(w, r, map[string]string{"message": "Email submission counts reset successfully"})
}

func (rl *Relay) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		have, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		// constant-time compare
		if !ok || !hmac.Equal([]byte(have), []byte(rl.adminToken)) {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, errorResponse{Message: "unauthorized", Error: CodeUnauthorized})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *Relay) recordStats(ctx context.Context, form, identity string, allowed bool) {
	if rl.stats == nil {
		return
	}
	ev := StatsEvent{Identity: identity, Form: form, Allowed: allowed, At: rl.now()}
	if err := rl.stats.Record(ctx, ev); err != nil {
		LoggerFromContext(ctx).Warn("failed to record submission stats", zap.Error(err))
	}
}

// parseSubmission reads the four form fields from a JSON, urlencoded or
// multipart body. For multipart bodies the first file in fileField is returned.
func parseSubmission(r *http.Request, fileField string, maxBytes int64) (Submission, *multipart.FileHeader, error) {
	var sub Submission

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var fields map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
			return sub, nil, bodyError(err, maxBytes)
		}
		return submissionFromJSON(fields), nil, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return sub, nil, bodyError(err, maxBytes)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return sub, nil, bodyError(err, maxBytes)
		}
	}

	sub = Submission{
		Name:    r.FormValue("name"),
		Email:   r.FormValue("email"),
		Phone:   r.FormValue("phone"),
		Message: r.FormValue("message"),
	}

	var fh *multipart.FileHeader
	if fileField != "" && r.MultipartForm != nil {
		if files := r.MultipartForm.File[fileField]; len(files) > 0 {
			fh = files[0]
		}
	}
	return sub, fh, nil
}

func bodyError(err error, maxBytes int64) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
		return &SizeLimitError{Limit: maxBytes}
	}
	return &RequestError{Err: err}
}
