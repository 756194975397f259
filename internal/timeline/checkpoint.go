package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Checkpoint is one parsed snapshot entry.
type Checkpoint struct {
	Time        time.Time
	Valid       bool
	Label       string
	RewindTime  time.Time
	RewindValid bool
	RewindLabel string
	// Ref is the timestamp text that names the checkpoint in open_snapshot.
	Ref string
	// Text is the serialized form the checkpoint was parsed from.
	Text string
}

// ParseCheckpoint parses "<ts>[:<label>]\n<rewind_ts>[:<rewind_label>]" with
// timestamps in UTC, converting them to local time. Malformed timestamps
// produce an invalid checkpoint rather than an error.
func ParseCheckpoint(text string) Checkpoint {
	return ParseCheckpointIn(text, time.Local)
}

// ParseCheckpointIn is ParseCheckpoint converting into loc.
func ParseCheckpointIn(text string, loc *time.Location) Checkpoint {
	head, rewind, _ := strings.Cut(text, "\n")
	tsText, label, _ := strings.Cut(head, ":")
	rwText, rwLabel, _ := strings.Cut(rewind, ":")

	cp := Checkpoint{Text: text}
	cp.Ref, cp.Label = splitLabelSuffix(tsText, label)
	cp.Time, cp.Valid = parseTimestamp(cp.Ref, loc)
	cp.Label = norm.NFC.String(cp.Label)

	if strings.TrimSpace(rwText) != "" {
		var rwTS string
		rwTS, cp.RewindLabel = splitLabelSuffix(rwText, rwLabel)
		cp.RewindTime, cp.RewindValid = parseTimestamp(rwTS, loc)
		cp.RewindLabel = norm.NFC.String(cp.RewindLabel)
	}
	return cp
}

// splitLabelSuffix handles the older form where a label followed the six
// timestamp fields after another underscore.
func splitLabelSuffix(ts, label string) (string, string) {
	ts = strings.TrimRight(ts, "_")
	fields := strings.Split(ts, "_")
	if len(fields) <= 6 {
		return ts, label
	}
	suffix := strings.Join(fields[6:], "_")
	if label == "" {
		label = suffix
	}
	return strings.Join(fields[:6], "_"), label
}

func parseTimestamp(ts string, loc *time.Location) (time.Time, bool) {
	fields := strings.Split(ts, "_")
	if len(fields) != 6 {
		return time.Time{}, false
	}
	var v [6]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || f == "" || f[0] == '+' {
			return time.Time{}, false
		}
		v[i] = n
	}
	t := time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, time.UTC)
	if t.Year() != v[0] || int(t.Month()) != v[1] || t.Day() != v[2] ||
		t.Hour() != v[3] || t.Minute() != v[4] || t.Second() != v[5] {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc), true
}

// FormatTimestamp renders t in the checkpoint timestamp layout, in UTC.
func FormatTimestamp(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%d_%d_%d_%d_%d_%d", u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute(), u.Second())
}

// FormatCheckpoint serializes a checkpoint. A zero rewind time leaves the
// second line empty.
func FormatCheckpoint(t time.Time, label string, rewind time.Time, rewindLabel string) string {
	var b strings.Builder
	b.WriteString(FormatTimestamp(t))
	if label != "" {
		b.WriteByte(':')
		b.WriteString(label)
	}
	b.WriteByte('\n')
	if !rewind.IsZero() {
		b.WriteString(FormatTimestamp(rewind))
		if rewindLabel != "" {
			b.WriteByte(':')
			b.WriteString(rewindLabel)
		}
	}
	return b.String()
}
