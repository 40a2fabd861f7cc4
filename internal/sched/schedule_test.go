package sched

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/calls"
)

func validSchedule() Schedule {
	return Schedule{
		ID:            "sch1",
		SubscriberID:  "sub1",
		TargetNumber:  "+15550001111",
		Code:          "123456",
		NotifyTarget:  "+15550002222",
		NotifyChannel: calls.ChannelSMS,
		Hour:          7,
		Minute:        30,
		Timezone:      "America/Chicago",
		Enabled:       true,
	}
}

func TestScheduleValidate(t *testing.T) {
	require.NoError(t, validSchedule().Validate())

	cases := []func(*Schedule){
		func(s *Schedule) { s.SubscriberID = "" },
		func(s *Schedule) { s.TargetNumber = "" },
		func(s *Schedule) { s.Code = "12" },
		func(s *Schedule) { s.NotifyChannel = "pigeon" },
		func(s *Schedule) { s.Hour = 24 },
		func(s *Schedule) { s.Minute = -1 },
		func(s *Schedule) { s.Timezone = "Mars/Olympus" },
	}
	for i, mutate := range cases {
		s := validSchedule()
		mutate(&s)
		assert.Error(t, s.Validate(), "case %d", i)
	}
}

func TestStagger_DeterministicAndBounded(t *testing.T) {
	window := 10 * time.Minute
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("subscriber-%d", i)
		d1 := Stagger(id, window)
		d2 := Stagger(id, window)
		assert.Equal(t, d1, d2, "same subscriber must always get the same offset")
		assert.GreaterOrEqual(t, d1, time.Duration(0))
		assert.Less(t, d1, window)
	}
}

func TestStagger_SpreadsSubscribers(t *testing.T) {
	window := 10 * time.Minute
	seen := map[time.Duration]bool{}
	for i := 0; i < 50; i++ {
		seen[Stagger(fmt.Sprintf("subscriber-%d", i), window)] = true
	}
	assert.Greater(t, len(seen), 40, "offsets should be well spread")
}

func TestStagger_ZeroWindow(t *testing.T) {
	assert.Equal(t, time.Duration(0), Stagger("anyone", 0))
}

func TestNextFire(t *testing.T) {
	s := validSchedule()
	loc := s.Location()
	offset := Stagger(s.SubscriberID, 10*time.Minute)

	// Well before today's trigger: fires today.
	now := time.Date(2026, 3, 2, 5, 0, 0, 0, loc)
	fire := s.NextFire(now, 10*time.Minute)
	want := time.Date(2026, 3, 2, 7, 30, 0, 0, loc).Add(offset)
	assert.True(t, fire.Equal(want), "got %v want %v", fire, want)

	// After today's trigger: fires tomorrow.
	now = time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	fire = s.NextFire(now, 10*time.Minute)
	want = time.Date(2026, 3, 3, 7, 30, 0, 0, loc).Add(offset)
	assert.True(t, fire.Equal(want), "got %v want %v", fire, want)

	assert.True(t, fire.After(now), "next fire must be in the future")
}
