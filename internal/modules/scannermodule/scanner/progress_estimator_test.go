package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressEstimatorUnknownTotalStaysAtZero(t *testing.T) {
	pe := NewProgressEstimator()
	pe.Update(40, 100, 1<<20)

	assert.Equal(t, 0.0, pe.Percent(), "no total means no made-up percentage")
	assert.Equal(t, time.Duration(0), pe.ETA())
}

func TestProgressEstimatorPercentIsCappedAt99(t *testing.T) {
	pe := NewProgressEstimator()
	pe.SetTotalDirs(10)

	pe.Update(5, 0, 0)
	assert.Equal(t, 50.0, pe.Percent())

	// First scans undercount the total; overshoot must not read as done
	pe.Update(25, 0, 0)
	assert.Equal(t, 99.0, pe.Percent())
}

func TestProgressEstimatorCounters(t *testing.T) {
	pe := NewProgressEstimator()
	pe.Update(3, 12, 4096)

	dirs, files, bytes := pe.Counters()
	assert.Equal(t, 3, dirs)
	assert.Equal(t, 12, files)
	assert.EqualValues(t, 4096, bytes)
}

func TestProgressEstimatorRateNeedsTwoSamples(t *testing.T) {
	pe := NewProgressEstimator()
	assert.Equal(t, 0.0, pe.Rate())

	pe.Update(1, 0, 0)
	assert.Equal(t, 0.0, pe.Rate())

	time.Sleep(20 * time.Millisecond)
	pe.Update(11, 0, 0)
	assert.Greater(t, pe.Rate(), 0.0)
}

func TestProgressEstimatorETAShrinksWithProgress(t *testing.T) {
	pe := NewProgressEstimator()
	pe.SetTotalDirs(100)

	pe.Update(10, 0, 0)
	time.Sleep(50 * time.Millisecond)
	pe.Update(11, 0, 0)

	assert.Greater(t, pe.ETA(), time.Duration(0))

	pe.Update(100, 0, 0)
	assert.Equal(t, time.Duration(0), pe.ETA(), "nothing remaining")
}
