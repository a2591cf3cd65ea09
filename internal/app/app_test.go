package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gv2cal/internal/classeviva"
	"gv2cal/internal/config"
	"gv2cal/internal/ics"
	"gv2cal/internal/registry"
	"gv2cal/internal/testutil"
)

func testConfig(t *testing.T, api *testutil.FakeAPI, interval string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Classeviva.Username = testutil.FakeUsername
	cfg.Classeviva.Password = testutil.FakePassword
	cfg.Classeviva.BaseURL = api.BaseURL()
	cfg.Classeviva.TimeoutSeconds = 5
	cfg.AgendaInterval = interval
	cfg.Timezone = "Europe/Rome"
	cfg.RegistryPath = filepath.Join(dir, "registry.json")
	cfg.OutputPath = filepath.Join(dir, "out", "agenda.ics")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestRunRequiresConfig(t *testing.T) {
	if _, err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	out := buf.String()
	if !strings.HasSuffix(out, "actual calendar.\n") {
		t.Errorf("banner should end with the tagline and one newline: %q", out)
	}
}

func TestRunEndToEnd(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.SetAgenda(
		testutil.AgendaEvent(101, "2024-10-09T08:00:00+02:00", "2024-10-09T09:30:00+02:00", "MATEMATICA", "ROSSI MARIO"),
		testutil.AgendaEvent(102, "2024-10-10T10:00:00+02:00", "2024-10-10T11:00:00+02:00", nil, "BIANCHI ANNA"),
	)
	cfg := testConfig(t, api, "1")
	first := time.Date(2024, 10, 8, 7, 0, 0, 0, time.UTC)

	var banner bytes.Buffer
	sum, err := Run(context.Background(), WithConfig(cfg), WithClock(fixedClock(first)), WithBanner(&banner))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(banner.String(), "Classeviva") {
		t.Errorf("banner not printed: %q", banner.String())
	}
	if sum.Fetched != 2 || sum.Added != 2 || sum.RegistryEntries != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Interval.StartParam() != "20240908" || sum.Interval.EndParam() != "20241108" {
		t.Errorf("interval = %s", sum.Interval)
	}
	req, ok := api.LastAgendaRequest()
	if !ok || req.Start != "20240908" || req.End != "20241108" {
		t.Errorf("agenda request = %+v", req)
	}

	events, err := ics.ParseFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("calendar events = %d", len(events))
	}
	byTitle := map[string]ics.ParsedEvent{}
	for _, ev := range events {
		byTitle[ev.Summary] = ev
	}
	math, ok := byTitle["MATEMATICA"]
	if !ok {
		t.Fatalf("missing subject-titled event: %+v", events)
	}
	if math.Duration() != 90*time.Minute {
		t.Errorf("duration = %v", math.Duration())
	}
	if !strings.Contains(math.Description, "First seen: 08/10/2024 09:00") {
		t.Errorf("description = %q", math.Description)
	}
	if _, ok := byTitle["BIANCHI ANNA"]; !ok {
		t.Errorf("event without subject should use the author name: %+v", events)
	}

	// Second run later: same events, nothing new, first-seen unchanged.
	later := first.Add(48 * time.Hour)
	sum, err = Run(context.Background(), WithConfig(cfg), WithClock(fixedClock(later)))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Added != 0 || sum.RegistryEntries != 2 {
		t.Errorf("second summary = %+v", sum)
	}
	doc, err := registry.NewStore(cfg.RegistryPath).Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []int{101, 102} {
		seen, ok := doc.Lookup(id)
		if !ok || !seen.Equal(first) {
			t.Errorf("event %d first seen = %v (found=%v), want %v", id, seen, ok, first)
		}
	}

	events, err = ics.ParseFile(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if !strings.Contains(ev.Description, "First seen: 08/10/2024 09:00") ||
			!strings.Contains(ev.Description, "Last synced: 10/10/2024 09:00") {
			t.Errorf("description after resync = %q", ev.Description)
		}
	}
}

func TestRunAuthenticationFailure(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.Fail(http.StatusUnprocessableEntity, 0, 0)
	cfg := testConfig(t, api, "1")

	_, err := Run(context.Background(), WithConfig(cfg))

	var aerr *classeviva.AuthenticationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AuthenticationError, got %v", err)
	}
	if _, err := os.Stat(cfg.OutputPath); !os.IsNotExist(err) {
		t.Errorf("calendar should not be written, stat err = %v", err)
	}
	// The registry is created before authenticating.
	doc, err := registry.NewStore(cfg.RegistryPath).Load()
	if err != nil || doc.Len() != 0 {
		t.Errorf("registry = %+v, %v", doc, err)
	}
}

func TestRunAgendaFailureLeavesRegistryUntouched(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.Fail(0, 0, http.StatusInternalServerError)
	cfg := testConfig(t, api, "1")

	_, err := Run(context.Background(), WithConfig(cfg))

	var ferr *classeviva.FetchError
	if !errors.As(err, &ferr) || ferr.Op != "agenda" {
		t.Fatalf("expected agenda *FetchError, got %v", err)
	}
	if _, err := os.Stat(cfg.OutputPath); !os.IsNotExist(err) {
		t.Errorf("calendar should not be written, stat err = %v", err)
	}
	doc, err := registry.NewStore(cfg.RegistryPath).Load()
	if err != nil || doc.Len() != 0 {
		t.Errorf("registry = %+v, %v", doc, err)
	}
}

func TestRunPeriodFallback(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.Fail(0, http.StatusServiceUnavailable, 0)
	api.SetAgenda(
		testutil.AgendaEvent(7, "2024-10-08T08:00:00+02:00", "2024-10-08T09:00:00+02:00", "STORIA", "VERDI LUCA"),
	)
	cfg := testConfig(t, api, "period")
	now := time.Date(2024, 10, 8, 7, 0, 0, 0, time.UTC)

	sum, err := Run(context.Background(), WithConfig(cfg), WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Interval.StartParam() != "20241008" || sum.Interval.EndParam() != "20241008" {
		t.Errorf("interval = %s, want today..today", sum.Interval)
	}
	if sum.Output.Events != 1 || sum.Output.Bytes == 0 {
		t.Errorf("output = %+v", sum.Output)
	}
}

func TestRunEmptyAgendaStillWritesCalendar(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	cfg := testConfig(t, api, "0")

	sum, err := Run(context.Background(), WithConfig(cfg))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Fetched != 0 || sum.Output.Events != 0 {
		t.Errorf("summary = %+v", sum)
	}
	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("BEGIN:VCALENDAR")) {
		t.Errorf("calendar body = %q", data)
	}
}
