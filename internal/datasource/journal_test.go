package datasource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJournalRecord(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := journalRecord(map[string]string{
		"MESSAGE":       "started",
		"_SYSTEMD_UNIT": "sshd.service",
		"_PID":          "42",
		"PRIORITY":      "6",
		"_TRANSPORT":    "journal",
	}, uint64(ts.UnixMicro()))

	assert.Equal(t, []string{"timestamp", "message", "priority", "pid", "unit"}, rec.Keys())
	assert.True(t, ts.Equal(rec.GetPath("timestamp").Time()))
	assert.Equal(t, "started", rec.GetPath("message").String())
	assert.Equal(t, "sshd.service", rec.GetPath("unit").String())
	assert.True(t, rec.GetPath("_TRANSPORT").IsNull())
}
