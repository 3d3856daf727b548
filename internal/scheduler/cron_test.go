package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronRunner_ArmHonorsPerEntryTimezone(t *testing.T) {
	r := newCronRunner(time.UTC)
	defer r.stop()

	require.NoError(t, r.arm("ny", "0 9 * * *", "America/New_York", func(string) {}))
	require.NoError(t, r.arm("default", "0 9 * * *", "", func(string) {}))
	r.start()

	nyLoc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.Equal(t, 9, r.nextRun("ny").In(nyLoc).Hour())
	assert.Equal(t, time.UTC.String(), r.nextRun("default").Location().String())
}

func TestCronRunner_ArmRejectsUnknownTimezone(t *testing.T) {
	r := newCronRunner(time.UTC)
	defer r.stop()

	err := r.arm("bad", "0 9 * * *", "Not/AZone", func(string) {})
	assert.Error(t, err)
}

func TestCronRunner_ArmRejectsDuplicateEntry(t *testing.T) {
	r := newCronRunner(time.UTC)
	defer r.stop()

	require.NoError(t, r.arm("dup", "0 9 * * *", "", func(string) {}))
	err := r.arm("dup", "0 9 * * *", "", func(string) {})
	assert.Error(t, err)
}
