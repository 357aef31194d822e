package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"protokoll/internal/catalog"
	"protokoll/internal/protocol/models"
	"protokoll/internal/protocol/punishment"
	"protokoll/internal/protocol/settings"
	"protokoll/internal/status/store"
)

type ComplianceSuite struct {
	suite.Suite
	store    *store.InMemoryStore
	sessions *catalog.InMemorySessionStore
	punisher *punishment.Service
	tracker  *Tracker
	now      time.Time
}

func TestComplianceSuite(t *testing.T) {
	suite.Run(t, new(ComplianceSuite))
}

func (s *ComplianceSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.sessions = catalog.NewInMemorySessionStore()
	s.now = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	cfg, err := settings.New(s.store)
	s.Require().NoError(err)

	s.punisher, err = punishment.New(s.store, "user-1")
	s.Require().NoError(err)

	s.tracker, err = New(s.store, s.sessions, cfg, s.punisher, "user-1",
		WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
}

func (s *ComplianceSuite) addSession(sess catalog.WearSession) {
	s.Require().NoError(s.sessions.Save(context.Background(), sess))
}

func closed(id string, t catalog.SessionType, start time.Time, hours float64) catalog.WearSession {
	end := start.Add(time.Duration(hours * float64(time.Hour)))
	return catalog.WearSession{ID: id, Type: t, StartedAt: start, EndedAt: &end}
}

func (s *ComplianceSuite) TestVerifyNight() {
	ctx := context.Background()
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	s.Run("partial coverage reports the missed checkpoint", func() {
		// One instruction session 00:00-05:00 covers 01:30, 03:00, 04:30
		// but not 06:00.
		s.addSession(closed("n1", catalog.SessionInstruction, date, 5))

		result, err := s.tracker.VerifyNight(ctx, date)
		s.Require().NoError(err)
		s.False(result.Success)
		s.Equal([]string{"01:30", "03:00", "04:30"}, result.Covered)
		s.Equal([]string{"06:00"}, result.Missed)
	})

	s.Run("failure lands a deferred punishment", func() {
		record, err := s.punisher.Current(ctx)
		s.Require().NoError(err)
		s.True(record.Deferred)
		s.Equal(missedCheckpointPenaltyMinutes, record.DurationMinutes)
	})

	s.Run("full coverage succeeds", func() {
		s.SetupTest()
		s.addSession(closed("n2", catalog.SessionInstruction, date, 7))

		result, err := s.tracker.VerifyNight(ctx, date)
		s.Require().NoError(err)
		s.True(result.Success)
		s.Empty(result.Missed)

		record, err := s.punisher.Current(ctx)
		s.Require().NoError(err)
		s.False(record.Outstanding())
	})

	s.Run("voluntary sessions do not cover checkpoints", func() {
		s.SetupTest()
		s.addSession(closed("n3", catalog.SessionVoluntary, date, 7))

		result, err := s.tracker.VerifyNight(ctx, date)
		s.Require().NoError(err)
		s.False(result.Success)
		s.Len(result.Missed, 4)
	})
}

func (s *ComplianceSuite) TestWeeklyRatchet() {
	ctx := context.Background()
	weekStart := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC) // Monday
	priorMonday := weekStart.AddDate(0, 0, -7)

	s.Run("average above goal raises it", func() {
		for day := 0; day < 5; day++ {
			start := priorMonday.AddDate(0, 0, day).Add(10 * time.Hour)
			s.addSession(closed("w"+string(rune('a'+day)), catalog.SessionInstruction, start, 4.6))
		}

		goal, err := s.tracker.ApplyWeeklyRatchet(ctx, weekStart)
		s.Require().NoError(err)
		s.InDelta(4.6, goal.DailyGoalHours, 0.01)
	})

	s.Run("average below goal never lowers it", func() {
		s.SetupTest()
		s.Require().NoError(s.store.Set(ctx, models.KeyWeeklyGoal, models.WeeklyGoal{DailyGoalHours: 4.0}))
		for day := 0; day < 5; day++ {
			start := priorMonday.AddDate(0, 0, day).Add(10 * time.Hour)
			s.addSession(closed("l"+string(rune('a'+day)), catalog.SessionInstruction, start, 3))
		}

		goal, err := s.tracker.ApplyWeeklyRatchet(ctx, weekStart)
		s.Require().NoError(err)
		s.InDelta(4.0, goal.DailyGoalHours, 0.001)
	})

	s.Run("night and voluntary sessions do not qualify", func() {
		s.SetupTest()
		s.Require().NoError(s.store.Set(ctx, models.KeyWeeklyGoal, models.WeeklyGoal{DailyGoalHours: 4.0}))
		// 23:00 start is a night session; voluntary type never qualifies.
		s.addSession(closed("x1", catalog.SessionInstruction, priorMonday.Add(23*time.Hour), 8))
		s.addSession(closed("x2", catalog.SessionVoluntary, priorMonday.Add(10*time.Hour), 8))

		goal, err := s.tracker.ApplyWeeklyRatchet(ctx, weekStart)
		s.Require().NoError(err)
		s.InDelta(4.0, goal.DailyGoalHours, 0.001)
	})

	s.Run("tzd-earned sessions are dampened before averaging", func() {
		s.SetupTest()
		s.Require().NoError(s.store.Set(ctx, models.KeyWeeklyGoal, models.WeeklyGoal{DailyGoalHours: 1.0}))
		sess := closed("t1", catalog.SessionInstruction, priorMonday.Add(10*time.Hour), 9)
		sess.TZDResult = string(models.ResultCompleted)
		s.addSession(sess)

		goal, err := s.tracker.ApplyWeeklyRatchet(ctx, weekStart)
		s.Require().NoError(err)
		// sqrt(9 * (1.12 - 0.18)) = sqrt(8.46) ≈ 2.909, well under 9.
		s.InDelta(2.909, goal.DailyGoalHours, 0.01)
	})

	s.Run("a failed night in the prior week blocks the raise", func() {
		s.SetupTest()
		s.Require().NoError(s.store.Set(ctx, models.KeyWeeklyGoal, models.WeeklyGoal{DailyGoalHours: 4.0}))
		s.Require().NoError(s.store.Set(ctx, models.ComplianceKey(priorMonday.AddDate(0, 0, 2)), models.CheckpointResult{
			Date:    priorMonday.AddDate(0, 0, 2).Format("2006-01-02"),
			Missed:  []string{"06:00"},
			Success: false,
		}))
		for day := 0; day < 5; day++ {
			start := priorMonday.AddDate(0, 0, day).Add(10 * time.Hour)
			s.addSession(closed("b"+string(rune('a'+day)), catalog.SessionInstruction, start, 6))
		}

		goal, err := s.tracker.ApplyWeeklyRatchet(ctx, weekStart)
		s.Require().NoError(err)
		s.InDelta(4.0, goal.DailyGoalHours, 0.001)
	})
}
