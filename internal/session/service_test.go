package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/feed"
	"rollcall/internal/token"
)

// fakeStore is an in-memory Store with the same uniqueness semantics the
// Postgres constraints enforce.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]Session
	attendees []Attendee
	clock     func() time.Time

	failInsert error
}

func newFakeStore(clock func() time.Time) *fakeStore {
	return &fakeStore{sessions: map[string]Session{}, clock: clock}
}

func (f *fakeStore) CreateSession(_ context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) MarkEnded(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = StatusEnded
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) InsertAttendee(_ context.Context, a Attendee) (Attendee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert != nil {
		return Attendee{}, f.failInsert
	}
	for _, existing := range f.attendees {
		if existing.SessionID != a.SessionID {
			continue
		}
		if existing.MatricNumber == a.MatricNumber {
			return Attendee{}, ErrDuplicateMatric
		}
		if existing.DeviceID == a.DeviceID {
			return Attendee{}, ErrDuplicateDevice
		}
	}
	a.SubmittedAt = f.clock()
	f.attendees = append(f.attendees, a)
	return a, nil
}

func (f *fakeStore) ListAttendees(_ context.Context, sessionID string) ([]Attendee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []Attendee
	for _, a := range f.attendees {
		if a.SessionID == sessionID {
			res = append(res, a)
		}
	}
	return res, nil
}

func (f *fakeStore) DeleteAttendee(_ context.Context, sessionID, attendeeID string) (Attendee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.attendees {
		if a.SessionID == sessionID && a.ID == attendeeID {
			f.attendees = append(f.attendees[:i], f.attendees[i+1:]...)
			return a, nil
		}
	}
	return Attendee{}, ErrNotFound
}

// harness wires a service to a fake store, in-memory feed, and a settable clock.
type harness struct {
	svc   *Service
	store *fakeStore
	feed  *feed.InMemory
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		feed: feed.NewInMemory(16),
		now:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	h.store = newFakeStore(func() time.Time { return h.now })
	h.svc = NewService(h.store, h.feed, "https://rollcall.example", nil)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) validRequest(sess Session) SubmitRequest {
	return SubmitRequest{
		Token:        token.GenerateAt(sess.ID, sess.Secret, h.now, 0),
		FullName:     "Ada Obi",
		MatricNumber: "csc/2021/041",
		Level:        "300L",
		DeviceID:     "device-1",
	}
}

func TestCreateSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.CreateSession(ctx, "  Intro to Systems  ", 30)
	require.NoError(t, err)

	assert.Equal(t, "Intro to Systems", sess.LectureName)
	assert.Equal(t, StatusActive, sess.Status)
	assert.NotEmpty(t, sess.ID)
	assert.Len(t, sess.Secret, 64, "32 random bytes hex-encoded")
	assert.Equal(t, sess.StartedAt.Add(30*time.Minute), sess.EndsAt)
	assert.Equal(t, sess.EndsAt.Add(Retention), sess.ExpiresAt)
}

func TestCreateSessionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		lecture  string
		duration int
	}{
		{"empty lecture", "", 30},
		{"blank lecture", "   ", 30},
		{"duration too short", "X", 4},
		{"duration too long", "X", 241},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateSession(ctx, tt.lecture, tt.duration)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSubmitAttendance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "Intro to Systems", 30)
	require.NoError(t, err)

	events, err := h.feed.Subscribe(ctx, sess.ID)
	require.NoError(t, err)

	att, err := h.svc.SubmitAttendance(ctx, sess.ID, h.validRequest(sess))
	require.NoError(t, err)

	assert.Equal(t, "CSC/2021/041", att.MatricNumber, "matric normalized to uppercase")
	assert.Equal(t, "Ada Obi", att.FullName)
	assert.Equal(t, sess.ID, att.SessionID)
	assert.Equal(t, h.now, att.SubmittedAt)

	select {
	case evt := <-events:
		assert.Equal(t, feed.TypeInsert, evt.Type)
		assert.Equal(t, sess.ID, evt.SessionID)
		assert.Contains(t, string(evt.Body), att.ID)
	default:
		t.Fatal("expected one insert event on the feed")
	}
}

func TestSubmitAttendanceRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid input", func(t *testing.T) {
		h := newHarness(t)
		sess, _ := h.svc.CreateSession(ctx, "X", 30)
		req := h.validRequest(sess)

		for name, mutate := range map[string]func(*SubmitRequest){
			"missing token":  func(r *SubmitRequest) { r.Token = "" },
			"missing name":   func(r *SubmitRequest) { r.FullName = "  " },
			"missing matric": func(r *SubmitRequest) { r.MatricNumber = "" },
			"missing device": func(r *SubmitRequest) { r.DeviceID = "" },
			"bad level":      func(r *SubmitRequest) { r.Level = "600L" },
		} {
			bad := req
			mutate(&bad)
			_, err := h.svc.SubmitAttendance(ctx, sess.ID, bad)
			assert.ErrorIs(t, err, ErrInvalidInput, name)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		h := newHarness(t)
		sess, _ := h.svc.CreateSession(ctx, "X", 30)
		_, err := h.svc.SubmitAttendance(ctx, "missing-id", h.validRequest(sess))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale token past grace", func(t *testing.T) {
		h := newHarness(t)
		sess, _ := h.svc.CreateSession(ctx, "X", 30)
		req := h.validRequest(sess)
		h.advance(65 * time.Second)
		_, err := h.svc.SubmitAttendance(ctx, sess.ID, req)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("token within grace accepted", func(t *testing.T) {
		h := newHarness(t)
		sess, _ := h.svc.CreateSession(ctx, "X", 30)
		req := h.validRequest(sess)
		h.advance(35 * time.Second)
		_, err := h.svc.SubmitAttendance(ctx, sess.ID, req)
		assert.NoError(t, err)
	})

	t.Run("session ended by time", func(t *testing.T) {
		h := newHarness(t)
		sess, _ := h.svc.CreateSession(ctx, "X", 30)
		h.advance(31 * time.Minute)
		req := h.validRequest(sess)
		_, err := h.svc.SubmitAttendance(ctx, sess.ID, req)
		assert.ErrorIs(t, err, ErrEnded)

		stored, _ := h.store.GetSession(ctx, sess.ID)
		assert.Equal(t, StatusEnded, stored.Status, "observation persisted the transition")
	})

	t.Run("session past retention horizon", func(t *testing.T) {
		h := newHarness(t)
		sess, _ := h.svc.CreateSession(ctx, "X", 30)
		h.advance(30*time.Minute + Retention + time.Minute)
		_, err := h.svc.SubmitAttendance(ctx, sess.ID, h.validRequest(sess))
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("store failure is not classified", func(t *testing.T) {
		h := newHarness(t)
		sess, _ := h.svc.CreateSession(ctx, "X", 30)
		h.store.failInsert = errors.New("connection refused")
		_, err := h.svc.SubmitAttendance(ctx, sess.ID, h.validRequest(sess))
		require.Error(t, err)
		assert.Empty(t, RejectKind(err))
	})
}

func TestSubmitAttendanceDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.CreateSession(ctx, "X", 30)

	first := h.validRequest(sess)
	_, err := h.svc.SubmitAttendance(ctx, sess.ID, first)
	require.NoError(t, err)

	// Same matric from a different phone: the first record wins.
	again := h.validRequest(sess)
	again.DeviceID = "device-2"
	again.MatricNumber = " csc/2021/041 " // normalization must not dodge the constraint
	_, err = h.svc.SubmitAttendance(ctx, sess.ID, again)
	assert.ErrorIs(t, err, ErrDuplicateMatric)

	// Same phone, different matric.
	other := h.validRequest(sess)
	other.MatricNumber = "CSC/2021/099"
	_, err = h.svc.SubmitAttendance(ctx, sess.ID, other)
	assert.ErrorIs(t, err, ErrDuplicateDevice)

	attendees, err := h.svc.ListAttendees(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, attendees, 1, "rejections never overwrite")
}

func TestGetSessionWriteBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.CreateSession(ctx, "X", 30)

	got, err := h.svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	h.advance(31 * time.Minute)
	got, err = h.svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)

	stored, _ := h.store.GetSession(ctx, sess.ID)
	assert.Equal(t, StatusEnded, stored.Status)

	h.advance(Retention)
	_, err = h.svc.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestEndSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.CreateSession(ctx, "X", 30)

	require.NoError(t, h.svc.EndSession(ctx, sess.ID))
	got, err := h.svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)

	// Idempotent.
	require.NoError(t, h.svc.EndSession(ctx, sess.ID))

	assert.ErrorIs(t, h.svc.EndSession(ctx, "missing-id"), ErrNotFound)
}

func TestCurrentQR(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.CreateSession(ctx, "Intro to Systems", 30)

	qr, err := h.svc.CurrentQR(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, qr.Status)
	assert.True(t, token.VerifyAt(qr.Token, sess.ID, sess.Secret, h.now))
	assert.Equal(t, token.ColorFor(token.WindowIndex(h.now)).Name, qr.Color)
	assert.Equal(t, "https://rollcall.example/attend/"+sess.ID+"?t="+qr.Token, qr.QRURL)
	assert.Greater(t, qr.WindowExpiresIn, int64(0))
	assert.LessOrEqual(t, qr.WindowExpiresIn, int64(token.WindowMillis))

	h.advance(31 * time.Minute)
	qr, err = h.svc.CurrentQR(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, QR{Status: StatusEnded}, qr)

	h.advance(Retention)
	_, err = h.svc.CurrentQR(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRemoveAttendee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.CreateSession(ctx, "X", 30)
	att, err := h.svc.SubmitAttendance(ctx, sess.ID, h.validRequest(sess))
	require.NoError(t, err)

	events, err := h.feed.Subscribe(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.RemoveAttendee(ctx, sess.ID, att.ID))
	select {
	case evt := <-events:
		assert.Equal(t, feed.TypeDelete, evt.Type)
		assert.Contains(t, string(evt.Body), att.ID)
	default:
		t.Fatal("expected one delete event on the feed")
	}

	assert.ErrorIs(t, h.svc.RemoveAttendee(ctx, sess.ID, att.ID), ErrNotFound)

	attendees, _ := h.svc.ListAttendees(ctx, sess.ID)
	assert.Empty(t, attendees)
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.CreateSession(ctx, "Intro to Systems", 30)
	_, err := h.svc.SubmitAttendance(ctx, sess.ID, h.validRequest(sess))
	require.NoError(t, err)

	name, body, err := h.svc.Export(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro_to_Systems_2025-03-10.csv", name)
	assert.Contains(t, body, "CSC/2021/041")
	assert.Contains(t, body, "\r\n")
}

// Walks the whole protocol against the clock, mirroring a real session.
func TestSessionFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.CreateSession(ctx, "Compilers", 5)
	require.NoError(t, err)

	qr, err := h.svc.CurrentQR(ctx, sess.ID)
	require.NoError(t, err)

	req := SubmitRequest{
		Token:        qr.Token,
		FullName:     "Chinedu Okafor",
		MatricNumber: "eng/2022/113",
		Level:        "200L",
		DeviceID:     "phone-a",
	}
	_, err = h.svc.SubmitAttendance(ctx, sess.ID, req)
	require.NoError(t, err)

	dup := req
	dup.DeviceID = "phone-b"
	_, err = h.svc.SubmitAttendance(ctx, sess.ID, dup)
	assert.ErrorIs(t, err, ErrDuplicateMatric)

	stale := req
	stale.MatricNumber = "ENG/2022/114"
	stale.DeviceID = "phone-c"
	h.advance(65 * time.Second)
	_, err = h.svc.SubmitAttendance(ctx, sess.ID, stale)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	h.advance(5 * time.Minute)
	qr, err = h.svc.CurrentQR(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, qr.Status)
}
