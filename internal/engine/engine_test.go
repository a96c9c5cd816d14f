package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"labreserve-backend/internal/calendar"
	"labreserve-backend/internal/model"
	"labreserve-backend/internal/store"
)

// stubStore is an in-memory store.Store for engine tests. It answers
// the engine's reads from fixtures and records commits; conflict
// decisions already covered by store tests are injected via errors.
type stubStore struct {
	computers      map[int64]*model.Computer
	users          map[int64]*model.User
	activeByHolder map[int64]int64
	overlaps       []model.Reservation

	reserveErr    error
	releaseErr    error
	releaseHolder int64 // holder of the reservation AtomicRelease finds
	releaseKept   bool  // computer row not freed by the release
	faultErr      error
	fixErr        error

	committed []*model.Reservation
	released  *model.Reservation
	fixStates [][2]model.ComputerStatus
	faulted   bool
}

func (s *stubStore) DB() *gorm.DB { return nil }

func (s *stubStore) GetComputer(_ context.Context, id int64) (*model.Computer, error) {
	if c, ok := s.computers[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) CountActiveByHolder(_ context.Context, holderID int64) (int64, error) {
	return s.activeByHolder[holderID], nil
}

func (s *stubStore) QueryOverlaps(_ context.Context, _ int64, start, end time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range s.overlaps {
		if r.Overlaps(start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubStore) AtomicReserve(_ context.Context, res *model.Reservation, _ bool) (*model.Reservation, error) {
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	s.committed = append(s.committed, res)
	return res, nil
}

func (s *stubStore) AtomicRelease(_ context.Context, computerID, actorID int64, force bool) (*model.Reservation, bool, error) {
	if s.releaseErr != nil {
		return nil, false, s.releaseErr
	}
	holder := s.releaseHolder
	if holder == 0 {
		holder = actorID
	}
	if holder != actorID && !force {
		return nil, false, store.ErrNotHolder
	}
	final := model.ReservationCompleted
	if holder != actorID {
		final = model.ReservationCancelled
	}
	s.released = &model.Reservation{ComputerID: computerID, HolderID: holder, Status: final}
	return s.released, !s.releaseKept, nil
}

func (s *stubStore) MarkFault(_ context.Context, _ int64, _ string, _ bool) ([]model.Reservation, error) {
	if s.faultErr != nil {
		return nil, s.faultErr
	}
	s.faulted = true
	return nil, nil
}

func (s *stubStore) SetFixState(_ context.Context, _ int64, from, to model.ComputerStatus, _ string) error {
	if s.fixErr != nil {
		return s.fixErr
	}
	s.fixStates = append(s.fixStates, [2]model.ComputerStatus{from, to})
	return nil
}

func (s *stubStore) ExpireOverdue(_ context.Context, _ time.Time) ([]int64, error) {
	return nil, nil
}

func (s *stubStore) RecordHeartbeat(_ context.Context, _ int64, _ bool, _, _ float64, _ time.Time) error {
	return nil
}

// recorderSink captures emitted events.
type recorderSink struct {
	events []Event
}

func (r *recorderSink) Emit(ev Event) { r.events = append(r.events, ev) }

// Monday 2025-03-10, lab open 08:00-22:00 by default.
var (
	testNow   = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	testStart = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
)

func newTestEngine(t *testing.T, s *stubStore, sink Sink) *Engine {
	t.Helper()
	cal, err := calendar.New(calendar.Config{Holidays: []string{"2025-05-01"}})
	require.NoError(t, err)
	return New(s, cal, Config{}, func() time.Time { return testNow }, sink)
}

func baseStubStore() *stubStore {
	return &stubStore{
		computers: map[int64]*model.Computer{
			2: {ID: 2, AssetTag: "PC-002", Status: model.StatusAvailable},
			3: {ID: 3, AssetTag: "PC-003", Status: model.StatusFaulty},
		},
		users: map[int64]*model.User{
			1: {ID: 1, Role: model.RoleStudent},
			7: {ID: 7, Role: model.RoleAdmin},
			9: {ID: 9, Role: model.RoleTechnician},
		},
		activeByHolder: map[int64]int64{},
	}
}

func TestReserveValidation(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*stubStore)
		computer int64
		holder   int64
		start    time.Time
		duration time.Duration
		wantKind Kind
	}{
		{
			name:     "outside business hours",
			computer: 2, holder: 1,
			start:    time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC),
			duration: time.Hour,
			wantKind: KindOutsideBusinessHours,
		},
		{
			name:     "public holiday",
			computer: 2, holder: 1,
			start:    time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
			duration: time.Hour,
			wantKind: KindOutsideBusinessHours,
		},
		{
			name:     "duration too short",
			computer: 2, holder: 1,
			start: testStart, duration: 30 * time.Minute,
			wantKind: KindInvalidDuration,
		},
		{
			name:     "duration too long",
			computer: 2, holder: 1,
			start: testStart, duration: 9 * time.Hour,
			wantKind: KindInvalidDuration,
		},
		{
			name:     "duration off granularity",
			computer: 2, holder: 1,
			start: testStart, duration: 70 * time.Minute,
			wantKind: KindInvalidDuration,
		},
		{
			name:     "start in the past",
			computer: 2, holder: 1,
			start:    time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC),
			duration: time.Hour,
			wantKind: KindInvalidStartTime,
		},
		{
			name:     "unknown computer",
			computer: 99, holder: 1,
			start: testStart, duration: time.Hour,
			wantKind: KindResourceUnavailable,
		},
		{
			name:     "faulty computer",
			computer: 3, holder: 1,
			start: testStart, duration: time.Hour,
			wantKind: KindResourceUnavailable,
		},
		{
			name:     "unknown holder",
			computer: 2, holder: 42,
			start: testStart, duration: time.Hour,
			wantKind: KindNotAuthorized,
		},
		{
			name: "student already holds a reservation",
			mutate: func(s *stubStore) {
				s.activeByHolder[1] = 1
			},
			computer: 2, holder: 1,
			start: testStart, duration: time.Hour,
			wantKind: KindHolderLimitExceeded,
		},
		{
			name: "slot conflict",
			mutate: func(s *stubStore) {
				s.overlaps = []model.Reservation{{
					ID: "existing", ComputerID: 2,
					StartTime: testStart, EndTime: testStart.Add(time.Hour),
					Status: model.ReservationActive,
				}}
			},
			computer: 2, holder: 1,
			start:    testStart.Add(30 * time.Minute),
			duration: time.Hour,
			wantKind: KindSlotConflict,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := baseStubStore()
			if tc.mutate != nil {
				tc.mutate(s)
			}
			eng := newTestEngine(t, s, nil)

			_, err := eng.Reserve(context.Background(), tc.computer, tc.holder, tc.start, tc.duration)
			require.Error(t, err)
			assert.Equal(t, tc.wantKind, KindOf(err))
			assert.Empty(t, s.committed, "a rejected request must not commit")
		})
	}
}

func TestReserveCommits(t *testing.T) {
	s := baseStubStore()
	sink := &recorderSink{}
	eng := newTestEngine(t, s, sink)

	res, err := eng.Reserve(context.Background(), 2, 1, testStart, 2*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.ComputerID)
	assert.Equal(t, int64(1), res.HolderID)
	assert.Equal(t, testStart.Add(2*time.Hour), res.EndTime)
	assert.Equal(t, model.ReservationActive, res.Status)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, model.IdempotencyKey(2, 1, testStart), res.IdempotencyKey)

	require.Len(t, sink.events, 1)
	assert.Equal(t, EventReservationConfirmed, sink.events[0].Type)
}

func TestReserveBoundaryTouchingAllowed(t *testing.T) {
	s := baseStubStore()
	s.overlaps = []model.Reservation{{
		ID: "existing", ComputerID: 2,
		StartTime: testStart,                // 10:00
		EndTime:   testStart.Add(time.Hour), // 11:00
		Status:    model.ReservationActive,
	}}
	eng := newTestEngine(t, s, nil)

	// [10:30, 11:30) collides with [10:00, 11:00).
	_, err := eng.Reserve(context.Background(), 2, 1, testStart.Add(30*time.Minute), time.Hour)
	require.Error(t, err)
	assert.Equal(t, KindSlotConflict, KindOf(err))

	var admErr *Error
	require.ErrorAs(t, err, &admErr)
	require.Len(t, admErr.Conflicts, 1)
	assert.Equal(t, "existing", admErr.Conflicts[0].ID)

	// [11:00, 12:00) touches the boundary and must be admitted.
	_, err = eng.Reserve(context.Background(), 2, 1, testStart.Add(time.Hour), time.Hour)
	require.NoError(t, err)
}

func TestReserveRetryReturnsCommittedReservation(t *testing.T) {
	// The holder retries a request that already committed, e.g. after a
	// timed-out response. They get their reservation back instead of a
	// conflict, and nothing is committed twice.
	s := baseStubStore()
	s.activeByHolder[1] = 1
	s.overlaps = []model.Reservation{{
		ID: "committed", ComputerID: 2, HolderID: 1,
		StartTime: testStart, EndTime: testStart.Add(time.Hour),
		Status: model.ReservationActive,
	}}
	sink := &recorderSink{}
	eng := newTestEngine(t, s, sink)

	res, err := eng.Reserve(context.Background(), 2, 1, testStart, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "committed", res.ID)
	assert.Empty(t, s.committed)
	assert.Empty(t, sink.events)
}

func TestReserveAdminBypassesHolderCap(t *testing.T) {
	s := baseStubStore()
	s.activeByHolder[7] = 3
	eng := newTestEngine(t, s, nil)

	_, err := eng.Reserve(context.Background(), 2, 7, testStart, time.Hour)
	require.NoError(t, err)
}

func TestReserveSurfacesCommitRace(t *testing.T) {
	// The pre-checks pass but another transaction wins the window
	// between read and commit.
	s := baseStubStore()
	s.reserveErr = store.ErrSlotConflict
	eng := newTestEngine(t, s, nil)

	_, err := eng.Reserve(context.Background(), 2, 1, testStart, time.Hour)
	require.Error(t, err)
	assert.Equal(t, KindSlotConflict, KindOf(err))
}

func TestRelease(t *testing.T) {
	t.Run("holder completes reservation", func(t *testing.T) {
		s := baseStubStore()
		sink := &recorderSink{}
		eng := newTestEngine(t, s, sink)

		res, err := eng.Release(context.Background(), 2, 1)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCompleted, res.Status)

		require.Len(t, sink.events, 1)
		assert.Equal(t, EventComputerAvailable, sink.events[0].Type)
	})

	t.Run("admin force release of another holder cancels", func(t *testing.T) {
		s := baseStubStore()
		s.releaseHolder = 1
		eng := newTestEngine(t, s, nil)

		res, err := eng.Release(context.Background(), 2, 7)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCancelled, res.Status)
	})

	t.Run("admin releasing their own reservation completes it", func(t *testing.T) {
		s := baseStubStore()
		s.releaseHolder = 7
		eng := newTestEngine(t, s, nil)

		res, err := eng.Release(context.Background(), 2, 7)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCompleted, res.Status)
	})

	t.Run("releasing a future booking emits no availability", func(t *testing.T) {
		// The store reports the computer row untouched: the current
		// holder is still occupying it, so subscribers must not be
		// woken up.
		s := baseStubStore()
		s.releaseKept = true
		sink := &recorderSink{}
		eng := newTestEngine(t, s, sink)

		res, err := eng.Release(context.Background(), 2, 1)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCompleted, res.Status)
		assert.Empty(t, sink.events)
	})

	t.Run("non-holder rejected", func(t *testing.T) {
		s := baseStubStore()
		s.releaseErr = store.ErrNotHolder
		eng := newTestEngine(t, s, nil)

		_, err := eng.Release(context.Background(), 2, 1)
		require.Error(t, err)
		assert.Equal(t, KindNotAuthorized, KindOf(err))
	})

	t.Run("nothing to release", func(t *testing.T) {
		s := baseStubStore()
		s.releaseErr = store.ErrNoActiveReservation
		eng := newTestEngine(t, s, nil)

		_, err := eng.Release(context.Background(), 2, 1)
		require.Error(t, err)
		assert.Equal(t, KindResourceUnavailable, KindOf(err))
	})
}

func TestReportFault(t *testing.T) {
	s := baseStubStore()
	sink := &recorderSink{}
	eng := newTestEngine(t, s, sink)

	err := eng.ReportFault(context.Background(), 2, 1, "blue screen on boot", false)
	require.NoError(t, err)
	assert.True(t, s.faulted)

	require.Len(t, sink.events, 1)
	assert.Equal(t, EventFaultReported, sink.events[0].Type)
}

func TestFixFlowRoles(t *testing.T) {
	t.Run("student cannot mark fixed", func(t *testing.T) {
		eng := newTestEngine(t, baseStubStore(), nil)
		err := eng.MarkFixed(context.Background(), 3, 1)
		require.Error(t, err)
		assert.Equal(t, KindNotAuthorized, KindOf(err))
	})

	t.Run("technician marks fixed", func(t *testing.T) {
		s := baseStubStore()
		sink := &recorderSink{}
		eng := newTestEngine(t, s, sink)

		require.NoError(t, eng.MarkFixed(context.Background(), 3, 9))
		require.Len(t, s.fixStates, 1)
		assert.Equal(t, [2]model.ComputerStatus{model.StatusFaulty, model.StatusPendingApproval}, s.fixStates[0])

		require.Len(t, sink.events, 1)
		assert.Equal(t, EventFixPendingApproval, sink.events[0].Type)
	})

	t.Run("technician cannot approve", func(t *testing.T) {
		eng := newTestEngine(t, baseStubStore(), nil)
		err := eng.ApproveFix(context.Background(), 3, 9)
		require.Error(t, err)
		assert.Equal(t, KindNotAuthorized, KindOf(err))
	})

	t.Run("admin approves", func(t *testing.T) {
		s := baseStubStore()
		sink := &recorderSink{}
		eng := newTestEngine(t, s, sink)

		require.NoError(t, eng.ApproveFix(context.Background(), 3, 7))
		require.Len(t, s.fixStates, 1)
		assert.Equal(t, [2]model.ComputerStatus{model.StatusPendingApproval, model.StatusAvailable}, s.fixStates[0])

		require.Len(t, sink.events, 1)
		assert.Equal(t, EventComputerAvailable, sink.events[0].Type)
	})

	t.Run("admin rejects", func(t *testing.T) {
		s := baseStubStore()
		eng := newTestEngine(t, s, nil)

		require.NoError(t, eng.RejectFix(context.Background(), 3, 7, "still crashes under load"))
		require.Len(t, s.fixStates, 1)
		assert.Equal(t, [2]model.ComputerStatus{model.StatusPendingApproval, model.StatusFaulty}, s.fixStates[0])
	})

	t.Run("wrong state surfaces as unavailable", func(t *testing.T) {
		s := baseStubStore()
		s.fixErr = store.ErrIllegalTransition
		eng := newTestEngine(t, s, nil)

		err := eng.ApproveFix(context.Background(), 2, 7)
		require.Error(t, err)
		assert.Equal(t, KindResourceUnavailable, KindOf(err))
	})
}
