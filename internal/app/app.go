// Package app runs one agenda-to-calendar sync:
// authenticate, resolve the interval, fetch the agenda, reconcile the
// first-seen registry, write the calendar file.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gv2cal/internal/classeviva"
	"gv2cal/internal/ics"
	appLog "gv2cal/internal/log"
	"gv2cal/internal/reconcile"
	"gv2cal/internal/registry"
)

const banner = `
   _____    ___   _____      _
  / ____|  |__ \ / ____|    | |
 | |  __   __ ) | |     __ _| |
 | | |_ \ \ / / /| |    / _` + "`" + ` | |
 | |__| |\ V / /_| |___| (_| | |
  \_____| \_/____|\_____\__,_|_|

Connect the Classeviva agenda to an actual calendar.
`

// Summary describes a completed run.
type Summary struct {
	Interval        classeviva.Interval
	Fetched         int
	Added           int
	RegistryEntries int
	Output          ics.WriteResult
}

// PrintBanner writes the start-up banner.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, banner)
}

// Run performs a single sync. Any error aborts the remaining steps; an
// unresolvable interval is the only failure that is recovered.
func Run(ctx context.Context, opts ...Option) (Summary, error) {
	a := &application{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return Summary{}, errors.New("config is required")
	}
	cfg := a.config

	if a.banner != nil {
		PrintBanner(a.banner)
	}
	appLog.SetLevel(cfg.Level())

	spec, err := cfg.IntervalSpec()
	if err != nil {
		return Summary{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return Summary{}, err
	}

	// The registry file is created before anything touches the network.
	store := registry.NewStore(cfg.RegistryPath)
	if _, err := store.Init(); err != nil {
		return Summary{}, err
	}

	client := classeviva.NewClient(cfg.Classeviva.BaseURL, classeviva.Identity{
		UserAgent: cfg.Classeviva.UserAgent,
		APIKey:    cfg.Classeviva.APIKey,
	}, cfg.Classeviva.Timeout())

	session, err := client.Login(ctx, classeviva.Credentials{
		Username: cfg.Classeviva.Username,
		Password: cfg.Classeviva.Password,
	})
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	sum.Interval = client.ResolveInterval(ctx, session, spec, a.now().In(loc))

	events, err := client.Agenda(ctx, session, sum.Interval)
	if err != nil {
		return sum, err
	}
	sum.Fetched = len(events)

	doc, err := store.Load()
	if err != nil {
		return sum, err
	}

	res := reconcile.Reconcile(events, doc, a.now())
	sum.Added = res.Added
	sum.RegistryEntries = res.Registry.Len()

	if err := store.Save(res.Registry); err != nil {
		return sum, err
	}
	appLog.Info("registry updated", "path", store.Path(), "new_events", res.Added, "entries", res.Registry.Len())

	exportOpts := ics.Options{
		Location:        loc,
		OrganizerDomain: cfg.OrganizerDomain,
		CalendarName:    cfg.CalendarName,
		Now:             a.now(),
	}
	entries := ics.ToEntries(res.Events, exportOpts)

	out, err := ics.Write(cfg.OutputPath, entries, exportOpts)
	sum.Output = out
	if err != nil {
		return sum, err
	}

	return sum, nil
}
