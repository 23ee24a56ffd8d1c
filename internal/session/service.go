package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rollcall/internal/feed"
	"rollcall/internal/token"
)

// Store is the persistence contract the service needs. Uniqueness is
// enforced by the store's atomic constraint checks, never by application
// locking: two concurrent submissions of the same matric must resolve to at
// most one winner across all server instances.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	MarkEnded(ctx context.Context, id string) error
	InsertAttendee(ctx context.Context, a Attendee) (Attendee, error)
	ListAttendees(ctx context.Context, sessionID string) ([]Attendee, error)
	DeleteAttendee(ctx context.Context, sessionID, attendeeID string) (Attendee, error)
}

// Service coordinates session lifecycle and the attendance gate.
type Service struct {
	store   Store
	feed    feed.Feed
	baseURL string
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a service. baseURL is the public origin encoded into
// QR URLs.
func NewService(store Store, f feed.Feed, baseURL string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		feed:    f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
		now:     time.Now,
	}
}

// CreateSession opens a new attendance session. The secret stays server-side
// for the session's whole life; tokens are the only derived value clients see.
func (s *Service) CreateSession(ctx context.Context, lectureName string, durationMinutes int) (Session, error) {
	lectureName = strings.TrimSpace(lectureName)
	if lectureName == "" {
		return Session{}, ErrInvalidInput
	}
	if durationMinutes < 5 || durationMinutes > 240 {
		return Session{}, ErrInvalidInput
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	sess := Session{
		ID:              uuid.NewString(),
		LectureName:     lectureName,
		DurationMinutes: durationMinutes,
		StartedAt:       now,
		EndsAt:          now.Add(time.Duration(durationMinutes) * time.Minute),
		Status:          StatusActive,
		Secret:          hex.EncodeToString(secret),
		CreatedAt:       now,
	}
	sess.ExpiresAt = sess.EndsAt.Add(Retention)

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	s.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.Int("duration_minutes", durationMinutes))
	return sess, nil
}

// load fetches a session and applies the lifecycle rules: expiry first (an
// expired session is indistinguishable from a missing one), then the
// time-based ended transition with durable write-back.
func (s *Service) load(ctx context.Context, id string) (Session, State, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, 0, err
	}
	state := Classify(s.now(), sess)
	switch state {
	case StateExpired:
		return Session{}, 0, ErrExpired
	case StateEnded:
		if sess.Status == StatusActive {
			// Persist the observed transition so later reads agree.
			// Losing a race to another observer writes the same value.
			if err := s.store.MarkEnded(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				s.log.Error("ended write-back failed", zap.String("session_id", id), zap.Error(err))
			}
			sess.Status = StatusEnded
		}
	}
	return sess, state, nil
}

// GetSession returns a session with lifecycle applied.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	sess, _, err := s.load(ctx, id)
	return sess, err
}

// EndSession explicitly closes a session. Idempotent; ending an already
// ended session succeeds.
func (s *Service) EndSession(ctx context.Context, id string) error {
	if _, _, err := s.load(ctx, id); err != nil {
		return err
	}
	return s.store.MarkEnded(ctx, id)
}

// CurrentQR returns the display payload for the current window, or a bare
// ended status once the session stops accepting submissions.
func (s *Service) CurrentQR(ctx context.Context, id string) (QR, error) {
	sess, state, err := s.load(ctx, id)
	if err != nil {
		return QR{}, err
	}
	if state == StateEnded {
		return QR{Status: StatusEnded}, nil
	}

	now := s.now()
	w := token.WindowIndex(now)
	tok := token.GenerateAt(sess.ID, sess.Secret, now, 0)
	color := token.ColorFor(w)
	return QR{
		Status:          StatusActive,
		Token:           tok,
		Color:           color.Name,
		ColorHex:        color.Hex,
		TextColor:       color.Text,
		QRURL:           s.baseURL + "/attend/" + sess.ID + "?t=" + tok,
		WindowExpiresIn: token.MsUntilNextWindow(now),
	}, nil
}

// SubmitAttendance runs the gate: lifecycle, token, then the uniqueness-
// checked insert. Checks run in order and the first failure is terminal.
func (s *Service) SubmitAttendance(ctx context.Context, sessionID string, req SubmitRequest) (Attendee, error) {
	att, err := s.submit(ctx, sessionID, req)
	countOutcome(err)
	return att, err
}

func (s *Service) submit(ctx context.Context, sessionID string, req SubmitRequest) (Attendee, error) {
	if req.Token == "" || strings.TrimSpace(req.FullName) == "" ||
		strings.TrimSpace(req.MatricNumber) == "" || req.DeviceID == "" {
		return Attendee{}, ErrInvalidInput
	}
	if !ValidLevel(req.Level) {
		return Attendee{}, ErrInvalidInput
	}

	sess, state, err := s.load(ctx, sessionID)
	if err != nil {
		return Attendee{}, err
	}
	if state == StateEnded {
		return Attendee{}, ErrEnded
	}

	if !token.VerifyAt(req.Token, sess.ID, sess.Secret, s.now()) {
		return Attendee{}, ErrTokenInvalid
	}

	att := Attendee{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		FullName:     strings.TrimSpace(req.FullName),
		MatricNumber: strings.ToUpper(strings.TrimSpace(req.MatricNumber)),
		Level:        req.Level,
		DeviceID:     req.DeviceID,
	}
	created, err := s.store.InsertAttendee(ctx, att)
	if err != nil {
		return Attendee{}, err
	}

	s.publish(ctx, feed.TypeInsert, created)
	return created, nil
}

// ListAttendees returns a session's attendees in submission order.
func (s *Service) ListAttendees(ctx context.Context, sessionID string) ([]Attendee, error) {
	if _, _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListAttendees(ctx, sessionID)
}

// RemoveAttendee deletes one record and emits the matching feed event.
func (s *Service) RemoveAttendee(ctx context.Context, sessionID, attendeeID string) error {
	if _, _, err := s.load(ctx, sessionID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteAttendee(ctx, sessionID, attendeeID)
	if err != nil {
		return err
	}
	s.publish(ctx, feed.TypeDelete, deleted)
	return nil
}

// Export renders the CSV download for a session.
func (s *Service) Export(ctx context.Context, sessionID string) (filename string, body string, err error) {
	sess, _, err := s.load(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	attendees, err := s.store.ListAttendees(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	return ExportFilename(sess), ExportCSV(sess, attendees), nil
}

// publish emits exactly one feed event per successful mutation. Delivery
// failures are logged, not surfaced: the write already happened.
func (s *Service) publish(ctx context.Context, typ string, a Attendee) {
	body, err := json.Marshal(a)
	if err != nil {
		s.log.Error("feed encode failed", zap.Error(err))
		return
	}
	evt := feed.Event{Type: typ, SessionID: a.SessionID, Body: body}
	if err := s.feed.Publish(ctx, evt); err != nil {
		s.log.Error("feed publish failed",
			zap.String("session_id", a.SessionID),
			zap.String("type", typ),
			zap.Error(err))
	}
}
