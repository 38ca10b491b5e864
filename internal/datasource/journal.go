package datasource

import (
	"sort"
	"time"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// journalFieldNames maps journal fields to record field names.
var journalFieldNames = map[string]string{
	"_SYSTEMD_UNIT":     "unit",
	"_PID":              "pid",
	"_UID":              "uid",
	"_GID":              "gid",
	"_COMM":             "command",
	"_EXE":              "executable",
	"_HOSTNAME":         "hostname",
	"PRIORITY":          "priority",
	"SYSLOG_FACILITY":   "facility",
	"SYSLOG_IDENTIFIER": "identifier",
}

// journalRecord converts a journal entry into a record: timestamp,
// message, then the mapped fields in name order.
func journalRecord(fields map[string]string, realtimeUsec uint64) *model.Map {
	rec := model.NewMap()
	rec.Set("timestamp", model.Time(time.UnixMicro(int64(realtimeUsec)).UTC()))
	rec.Set("message", model.String(fields["MESSAGE"]))

	names := make([]string, 0, len(journalFieldNames))
	for jField := range journalFieldNames {
		names = append(names, jField)
	}
	sort.Strings(names)
	for _, jField := range names {
		if val, ok := fields[jField]; ok {
			rec.Set(journalFieldNames[jField], model.String(val))
		}
	}
	return rec
}
