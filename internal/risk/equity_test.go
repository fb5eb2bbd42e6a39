package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTrackerPeakAndDailyRollover(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)}
	tr := NewTracker(d("10000"), clock.Now)

	e := tr.Observe(d("10500"))
	assert.True(t, e.Peak.Equal(d("10500")))
	assert.True(t, e.DayStart.Equal(d("10000")))

	tr.RecordRealized(d("-300"))
	e = tr.Observe(d("10200"))
	assert.True(t, e.Peak.Equal(d("10500")))
	assert.True(t, e.DailyRealized.Equal(d("-300")))

	clock.Advance(3 * time.Hour) // past UTC midnight
	e = tr.View()
	assert.True(t, e.DayStart.Equal(d("10200")))
	assert.True(t, e.DailyRealized.IsZero())
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), e.Day)

	tr.Reset(d("500"))
	e = tr.View()
	assert.True(t, e.Peak.Equal(d("500")))
	assert.True(t, e.DayStart.Equal(d("500")))
}
