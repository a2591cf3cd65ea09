package ics

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"gv2cal/internal/fsutil"
	appLog "gv2cal/internal/log"
	"gv2cal/internal/model"
)

const (
	ProductID = "-//SysWhite//gv2cal//IT"

	DefaultOrganizerDomain = "syswhite.dev"
	DefaultCalendarName    = "Classeviva"

	// descriptionTimeLayout is used for the first-seen / last-synced lines.
	descriptionTimeLayout = "02/01/2006 15:04"
)

// uidNamespace seeds the UUIDv5 event UIDs so that the same agenda event
// keeps its UID across runs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("gv2cal.classeviva"))

// Options controls how agenda events are turned into calendar entries.
type Options struct {
	// Location is used for the human-readable timestamps in descriptions.
	// If nil, time.Local is used.
	Location *time.Location

	// OrganizerDomain is appended to the derived organizer address.
	OrganizerDomain string

	// CalendarName is written as X-WR-CALNAME.
	CalendarName string

	// Now is the last-synced time; zero means time.Now().
	Now time.Time
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.OrganizerDomain == "" {
		o.OrganizerDomain = DefaultOrganizerDomain
	}
	if o.CalendarName == "" {
		o.CalendarName = DefaultCalendarName
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// ToEntries maps reconciled agenda events to calendar entries, one per
// event id, preserving order. Later repeats of an id are dropped so every
// UID appears once.
func ToEntries(events []model.AnnotatedEvent, opts Options) []model.CalendarEntry {
	opts = opts.withDefaults()

	out := make([]model.CalendarEntry, 0, len(events))
	seen := make(map[int]bool, len(events))
	for _, ev := range events {
		if seen[ev.ID] {
			appLog.Debug("skipping repeated agenda event", "evt_id", ev.ID)
			continue
		}
		seen[ev.ID] = true
		out = append(out, model.CalendarEntry{
			UID:             EventUID(ev.ID, opts.OrganizerDomain),
			Title:           Title(ev.AgendaEvent),
			OrganizerName:   ev.AuthorName,
			OrganizerEmail:  OrganizerEmail(ev.AuthorName, opts.OrganizerDomain),
			Description:     Description(ev.Notes, ev.FirstSeen, opts.Now, opts.Location),
			BusyStatus:      model.BusyStatusFree,
			Categories:      categories(ev.AgendaEvent),
			Start:           ev.Begin,
			AllDay:          ev.FullDay,
			DurationMinutes: DurationMinutes(ev.Begin, ev.End),
			FirstSeen:       ev.FirstSeen,
		})
	}
	return out
}

// Title is the subject description when present, otherwise the author.
func Title(ev model.AgendaEvent) string {
	if s := ev.Subject(); s != "" {
		return s
	}
	return ev.AuthorName
}

// OrganizerEmail derives a display address from an author name:
// "Jane Doe" -> "jane.doe@<domain>". It is not a deliverable address.
func OrganizerEmail(authorName, domain string) string {
	local := strings.ReplaceAll(strings.ToLower(authorName), " ", ".")
	return local + "@" + domain
}

// DurationMinutes returns end-start in whole minutes, rounding half up.
// Zero and negative spans are returned as is.
func DurationMinutes(start, end time.Time) int {
	ms := end.Sub(start).Milliseconds()
	return int(math.Floor(float64(ms)/60000 + 0.5))
}

// Description appends the first-seen and last-synced annotations to the
// event notes.
func Description(notes string, firstSeen, synced time.Time, loc *time.Location) string {
	var b strings.Builder
	if notes = strings.TrimSpace(notes); notes != "" {
		b.WriteString(notes)
		b.WriteString("\n\n")
	}
	b.WriteString("First seen: ")
	b.WriteString(firstSeen.In(loc).Format(descriptionTimeLayout))
	b.WriteString("\nLast synced: ")
	b.WriteString(synced.In(loc).Format(descriptionTimeLayout))
	return b.String()
}

// EventUID returns a stable UID for an agenda event id.
func EventUID(id int, domain string) string {
	return uuid.NewSHA1(uidNamespace, []byte(strconv.Itoa(id))).String() + "@" + domain
}

func categories(ev model.AgendaEvent) []string {
	var out []string
	if ev.Code != "" {
		out = append(out, ev.Code)
	}
	if ev.ClassDesc != "" {
		out = append(out, ev.ClassDesc)
	}
	return out
}

// FormatDuration renders minutes as an RFC 5545 duration, e.g. "PT90M",
// "-PT5M" or "PT0M".
func FormatDuration(minutes int) string {
	if minutes < 0 {
		return "-PT" + strconv.Itoa(-minutes) + "M"
	}
	return "PT" + strconv.Itoa(minutes) + "M"
}

// AllDaySpan is the number of calendar days an all-day entry covers,
// at least one. A 00:00-23:59 event spans one day.
func AllDaySpan(minutes int) int {
	days := (minutes + minutesPerDay - 1) / minutesPerDay
	if days < 1 {
		return 1
	}
	return days
}

const minutesPerDay = 24 * 60

// Build assembles a VCALENDAR from entries. now is written as DTSTAMP.
func Build(entries []model.CalendarEntry, opts Options) *ical.Calendar {
	opts = opts.withDefaults()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName(opts.CalendarName)
	cal.SetXWRTimezone(opts.Location.String())

	for _, en := range entries {
		ev := cal.AddEvent(en.UID)
		ev.SetDtStampTime(opts.Now)
		if !en.FirstSeen.IsZero() {
			ev.SetCreatedTime(en.FirstSeen)
		}
		if en.AllDay {
			// DATE values need a whole-day end; DTEND is exclusive.
			day := en.Start.In(opts.Location)
			ev.SetAllDayStartAt(day)
			ev.SetAllDayEndAt(day.AddDate(0, 0, AllDaySpan(en.DurationMinutes)))
		} else {
			ev.SetStartAt(en.Start)
			ev.SetProperty(ical.ComponentPropertyDuration, FormatDuration(en.DurationMinutes))
		}
		ev.SetSummary(en.Title)
		ev.SetDescription(en.Description)
		if en.OrganizerEmail != "" {
			ev.SetOrganizer("mailto:"+en.OrganizerEmail, ical.WithCN(en.OrganizerName))
		}
		ev.SetTimeTransparency(transpFor(en.BusyStatus))
		ev.SetProperty(propBusyStatus, en.BusyStatus)
		for _, c := range en.Categories {
			ev.AddProperty(ical.ComponentPropertyCategories, c)
		}
	}

	return cal
}

const propBusyStatus ical.ComponentProperty = "X-MICROSOFT-CDO-BUSYSTATUS"

func transpFor(status string) ical.TimeTransparency {
	if status == model.BusyStatusFree {
		return ical.TransparencyTransparent
	}
	return ical.TransparencyOpaque
}

// SerializationError reports that the calendar could not be fully
// serialized. Whatever was produced is still written.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("ics: serialize calendar: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// WriteError reports that the calendar file could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ics: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteResult describes a completed Write.
type WriteResult struct {
	Path   string
	Events int
	Bytes  int
	// SerializeErr is set when serialization failed part way; the file
	// then holds whatever was produced.
	SerializeErr error
}

// Serialize renders cal. On failure the partial output is returned along
// with a *SerializationError.
func Serialize(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf); err != nil {
		return buf.Bytes(), &SerializationError{Err: err}
	}
	return buf.Bytes(), nil
}

// Write builds the calendar for entries and replaces the file at path.
// A serialization failure is logged and does not stop the write; only a
// failure to write the file is returned as an error.
func Write(path string, entries []model.CalendarEntry, opts Options) (WriteResult, error) {
	res := WriteResult{Path: path, Events: len(entries)}

	data, serr := Serialize(Build(entries, opts))
	if serr != nil {
		res.SerializeErr = serr
		appLog.Error("failed to serialize calendar, writing partial output", serr, "path", path, "bytes", len(data))
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644, ".agenda-*.tmp"); err != nil {
		return res, &WriteError{Path: path, Err: err}
	}
	res.Bytes = len(data)

	if serr == nil {
		appLog.Info("calendar file updated", "path", path, "events", len(entries), "bytes", len(data))
	}
	return res, nil
}
