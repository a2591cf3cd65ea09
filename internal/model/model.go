package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AgendaEvent is a single agenda item as returned by the Classeviva
// agenda endpoint. It is read-only input for the rest of the pipeline.
type AgendaEvent struct {
	ID    int       `json:"evtId"`
	Code  string    `json:"evtCode"`
	Begin time.Time `json:"evtDatetimeBegin"`
	End   time.Time `json:"evtDatetimeEnd"`

	FullDay bool `json:"isFullDay"`

	Notes      string `json:"notes"`
	AuthorName string `json:"authorName"`
	ClassDesc  string `json:"classDesc"`

	// Optional fields; the API sends null for agenda items that are not
	// tied to a subject or a homework.
	SubjectID   OptionalID `json:"subjectId"`
	SubjectDesc *string    `json:"subjectDesc"`
	HomeworkID  OptionalID `json:"homeworkId"`
}

// Subject returns the subject description, or "" when absent.
func (e AgendaEvent) Subject() string {
	if e.SubjectDesc == nil {
		return ""
	}
	return *e.SubjectDesc
}

// OptionalID accepts a JSON number, string or null. The zero value means
// the id was absent.
type OptionalID string

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = OptionalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("optional id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("optional id %q is not an integer", n.String())
	}
	*o = OptionalID(n.String())
	return nil
}

// AnnotatedEvent is an agenda event paired with the time it was first
// observed according to the registry.
type AnnotatedEvent struct {
	AgendaEvent
	FirstSeen time.Time
}

// BusyStatusFree marks entries that do not block time in calendar clients.
const BusyStatusFree = "FREE"

// CalendarEntry is one exported calendar event.
type CalendarEntry struct {
	UID string

	Title          string
	OrganizerName  string
	OrganizerEmail string
	Description    string
	BusyStatus     string
	Categories     []string

	Start  time.Time
	AllDay bool

	// DurationMinutes is end minus start, rounded to whole minutes. It is
	// not clamped, so it may be zero or negative.
	DurationMinutes int

	FirstSeen time.Time
}
