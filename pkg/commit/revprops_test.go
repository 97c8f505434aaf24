package commit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRevPropsRoundTrip(t *testing.T) {
	props := map[string]string{
		"svn:log":    "first commit\nwith a newline",
		"svn:author": "jrandom",
		"weird\tkey": "tab\\backslash",
	}
	decoded := DecodeRevProps(EncodeRevProps(props))
	assert.Equal(t, props, decoded)
}

func TestFinalizeRevPropsStampsCurrentTimeByDefault(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := finalizeRevProps(map[string]string{"svn:log": "hi"}, now)

	assert.Equal(t, "hi", out["svn:log"])
	assert.Equal(t, now.UTC().Format(time.RFC3339Nano), out[propSvnDate])
}

func TestFinalizeRevPropsPreservesClientDate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := finalizeRevProps(map[string]string{
		propClientDate: "1",
		propSvnDate:    "2020-01-01T00:00:00Z",
		"svn:log":      "hi",
	}, now)

	assert.Equal(t, "2020-01-01T00:00:00Z", out[propSvnDate])
	assert.NotContains(t, out, propClientDate)
}

func TestFinalizeRevPropsStripsInternalMarkers(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := finalizeRevProps(map[string]string{
		propCheckOOD:   "1",
		propCheckLocks: "1",
		"svn:log":      "hi",
	}, now)

	assert.NotContains(t, out, propCheckOOD)
	assert.NotContains(t, out, propCheckLocks)
	assert.Contains(t, out, "svn:log")
}
