package classeviva

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	appLog "gv2cal/internal/log"
)

const (
	// ParamLayout is the date format used in agenda URLs.
	ParamLayout = "20060102"
	// dateLayout is the date-only format used by the periods endpoint.
	dateLayout = "2006-01-02"

	ModeMonths = "months"
	ModePeriod = "period"
)

// Interval is an inclusive date range. Only the calendar date of Start and
// End is used.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) StartParam() string { return iv.Start.Format(ParamLayout) }
func (iv Interval) EndParam() string { return iv.End.Format(ParamLayout) }

func (iv Interval) String() string { return iv.StartParam() + ".." + iv.EndParam() }

// Today is the single-day interval containing now; it is the fallback when
// nothing better can be resolved.
func Today(now time.Time) Interval {
	return Interval{Start: now, End: now}
}

// IntervalSpec selects how the agenda interval is computed.
type IntervalSpec struct {
	Mode string
	// Months is the offset on each side of now when Mode is ModeMonths.
	Months int
}

// ParseIntervalSpec reads an AGENDA_INTERVAL value: a non-negative number
// of months, or "period" for the current school period.
func ParseIntervalSpec(raw string) (IntervalSpec, error) {
	v := strings.TrimSpace(raw)
	if strings.EqualFold(v, ModePeriod) {
		return IntervalSpec{Mode: ModePeriod}, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return IntervalSpec{}, fmt.Errorf("agenda interval %q: want a number of months or %q", raw, ModePeriod)
	}
	if n < 0 {
		return IntervalSpec{}, fmt.Errorf("agenda interval %q: must not be negative", raw)
	}
	return IntervalSpec{Mode: ModeMonths, Months: n}, nil
}

func (s IntervalSpec) String() string {
	if s.Mode == ModePeriod {
		return ModePeriod
	}
	return strconv.Itoa(s.Months)
}

// MonthsInterval spans n months before and after now.
func MonthsInterval(now time.Time, n int) (Interval, error) {
	if n < 0 {
		return Interval{}, fmt.Errorf("negative month offset %d", n)
	}
	return Interval{
		Start: now.AddDate(0, -n, 0),
		End:   now.AddDate(0, n, 0),
	}, nil
}

// Period is one school term as returned by the periods endpoint.
type Period struct {
	Code     string `json:"periodCode"`
	Position int    `json:"periodPos"`
	Desc     string `json:"periodDesc"`
	IsFinal  bool   `json:"isFinal"`
	Start    string `json:"dateStart"`
	End      string `json:"dateEnd"`
	MiniDesc string `json:"miniDesc"`
}

func (p *Period) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Start, validation.Required, validation.By(dateOnly)),
		validation.Field(&p.End, validation.Required, validation.By(dateOnly)),
	)
}

// Bounds returns the period's first and last day in loc.
func (p Period) Bounds(loc *time.Location) (time.Time, time.Time, error) {
	start, err := parseDate(p.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDate(p.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("period %s ends before it starts", p.Code)
	}
	return start, end, nil
}

func dateOnly(value any) error {
	s, _ := value.(string)
	_, err := parseDate(s, time.UTC)
	return err
}

// parseDate reads the date part of a date or timestamp string. The first
// ten characters are "YYYY-MM-DD" in both forms.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if len(s) < len(dateLayout) {
		return time.Time{}, fmt.Errorf("date %q is too short", s)
	}
	return time.ParseInLocation(dateLayout, s[:len(dateLayout)], loc)
}

type periodsResponse struct {
	Periods []Period `json:"periods"`
}

// Periods fetches the school periods of the session's student.
func (c *Client) Periods(ctx context.Context, s Session) ([]Period, error) {
	path := fmt.Sprintf("/students/%s/periods", url.PathEscape(s.UserID))

	var resp periodsResponse
	status, err := c.do(ctx, http.MethodGet, path, s.Token, nil, &resp)
	if err != nil {
		return nil, &FetchError{Op: "periods", Status: status, Err: err}
	}
	for i := range resp.Periods {
		if err := resp.Periods[i].Validate(); err != nil {
			return nil, &FetchError{Op: "periods", Status: status, Err: fmt.Errorf("period %d: %w", i, err)}
		}
	}
	return resp.Periods, nil
}

// PeriodInterval picks the period that contains now. When now falls between
// or outside all periods, the whole span from the earliest start to the
// latest end is used.
func PeriodInterval(periods []Period, now time.Time) (Interval, error) {
	if len(periods) == 0 {
		return Interval{}, errors.New("no school periods returned")
	}

	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	var span Interval
	for i, p := range periods {
		start, end, err := p.Bounds(loc)
		if err != nil {
			return Interval{}, err
		}
		if !today.Before(start) && !today.After(end) {
			return Interval{Start: start, End: end}, nil
		}
		if i == 0 || start.Before(span.Start) {
			span.Start = start
		}
		if i == 0 || end.After(span.End) {
			span.End = end
		}
	}
	return span, nil
}

// ResolveInterval computes the agenda interval for spec. It never fails:
// an *IntervalResolutionError is logged as a warning and the interval
// falls back to today..today.
func (c *Client) ResolveInterval(ctx context.Context, s Session, spec IntervalSpec, now time.Time) Interval {
	iv, err := c.resolveInterval(ctx, s, spec, now)
	if err != nil {
		rerr := &IntervalResolutionError{Mode: spec.Mode, Err: err}
		iv = Today(now)
		appLog.Warn("failed to resolve agenda interval, falling back to today", rerr, "interval", iv.String())
		return iv
	}
	appLog.Info("resolved agenda interval", "mode", spec.Mode, "interval", iv.String())
	return iv
}

func (c *Client) resolveInterval(ctx context.Context, s Session, spec IntervalSpec, now time.Time) (Interval, error) {
	switch spec.Mode {
	case ModeMonths:
		return MonthsInterval(now, spec.Months)
	case ModePeriod:
		periods, err := c.Periods(ctx, s)
		if err != nil {
			return Interval{}, err
		}
		return PeriodInterval(periods, now)
	default:
		return Interval{}, fmt.Errorf("unknown interval mode %q", spec.Mode)
	}
}
