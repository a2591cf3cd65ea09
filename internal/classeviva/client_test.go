package classeviva

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"gv2cal/internal/testutil"
)

func newTestClient(t *testing.T) (*Client, *testutil.FakeAPI) {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	return NewClient(api.BaseURL(), Identity{}, 5*time.Second), api
}

func login(t *testing.T, c *Client) Session {
	t.Helper()
	s, err := c.Login(context.Background(), Credentials{Username: testutil.FakeUsername, Password: testutil.FakePassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return s
}

func TestLoginSuccess(t *testing.T) {
	c, api := newTestClient(t)

	s := login(t, c)

	if s.Token != testutil.FakeToken {
		t.Errorf("token = %q", s.Token)
	}
	if s.UserID != testutil.FakeUserID {
		t.Errorf("user id = %q, want %q", s.UserID, testutil.FakeUserID)
	}
	if s.Expires.IsZero() {
		t.Error("expiry should be parsed")
	}
	if s.Name() != "JANE DOE" {
		t.Errorf("name = %q", s.Name())
	}

	bodies := api.LoginRequests()
	if len(bodies) != 1 {
		t.Fatalf("login calls = %d", len(bodies))
	}
	body := bodies[0]
	if v, ok := body["ident"]; !ok || v != nil {
		t.Errorf("ident should be sent as null, got %v (present=%v)", v, ok)
	}
	if body["uid"] != testutil.FakeUsername || body["pass"] != testutil.FakePassword {
		t.Errorf("unexpected login body: %v", body)
	}

	h := api.RequestHeaders()[0]
	if h.Get("User-Agent") != DefaultUserAgent {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if h.Get("Z-Auth-Token") != "" {
		t.Error("login must not carry an auth token")
	}
}

func TestLoginRejected(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Login(context.Background(), Credentials{Username: testutil.FakeUsername, Password: "wrong"})

	var aerr *AuthenticationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AuthenticationError, got %v", err)
	}
	if aerr.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", aerr.Status)
	}
}

func TestLoginWrongAPIKey(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	c := NewClient(api.BaseURL(), Identity{APIKey: "nope"}, time.Second)

	_, err := c.Login(context.Background(), Credentials{Username: testutil.FakeUsername, Password: testutil.FakePassword})

	var aerr *AuthenticationError
	if !errors.As(err, &aerr) || aerr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 *AuthenticationError, got %v", err)
	}
}

func TestLoginUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/rest/v1", Identity{}, time.Second)

	_, err := c.Login(context.Background(), Credentials{Username: "x", Password: "y"})

	var aerr *AuthenticationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AuthenticationError, got %v", err)
	}
	if aerr.Status != 0 {
		t.Errorf("status = %d, want 0 for transport errors", aerr.Status)
	}
}

func TestUserIDFromIdent(t *testing.T) {
	cases := map[string]string{
		"S1234567X": "1234567",
		"G9876543Z": "9876543",
		"X":         "",
		"":          "",
	}
	for in, want := range cases {
		if got := UserIDFromIdent(in); got != want {
			t.Errorf("UserIDFromIdent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoginResponseValidation(t *testing.T) {
	ok := loginResponse{Token: "t", Ident: "S1234567X"}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid response rejected: %v", err)
	}
	for _, bad := range []loginResponse{
		{Token: "", Ident: "S1234567X"},
		{Token: "t", Ident: ""},
		{Token: "t", Ident: "1234567"},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", bad)
		}
	}
}

func TestAgendaFetch(t *testing.T) {
	c, api := newTestClient(t)
	api.SetAgenda(
		testutil.AgendaEvent(1, "2024-10-08T08:00:00+02:00", "2024-10-08T09:30:00+02:00", "MATEMATICA", "MARIO ROSSI"),
		testutil.AgendaEvent(2, "2024-10-09T10:00:00+02:00", "2024-10-09T11:00:00+02:00", nil, "Jane Doe"),
	)
	s := login(t, c)
	iv := Interval{
		Start: time.Date(2024, 9, 8, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 11, 8, 12, 0, 0, 0, time.UTC),
	}

	events, err := c.Agenda(context.Background(), s, iv)
	if err != nil {
		t.Fatalf("Agenda: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Subject() != "MATEMATICA" || events[1].Subject() != "" {
		t.Errorf("subjects = %q, %q", events[0].Subject(), events[1].Subject())
	}
	if d := events[0].End.Sub(events[0].Begin); d != 90*time.Minute {
		t.Errorf("span = %v", d)
	}

	req, ok := api.LastAgendaRequest()
	if !ok {
		t.Fatal("no agenda request recorded")
	}
	if req.UserID != testutil.FakeUserID || req.Start != "20240908" || req.End != "20241108" {
		t.Errorf("agenda request = %+v", req)
	}

	headers := api.RequestHeaders()
	last := headers[len(headers)-1]
	if last.Get("Z-Auth-Token") != testutil.FakeToken {
		t.Errorf("agenda call missing auth token")
	}
}

func TestAgendaDropsMalformedEvents(t *testing.T) {
	c, api := newTestClient(t)
	api.SetAgenda(
		testutil.AgendaEvent(0, "2024-10-08T08:00:00+02:00", "2024-10-08T09:00:00+02:00", nil, "No Id"),
		testutil.AgendaEvent(5, "2024-10-08T08:00:00+02:00", "2024-10-08T09:00:00+02:00", nil, "Good"),
	)
	s := login(t, c)

	events, err := c.Agenda(context.Background(), s, Today(time.Now()))
	if err != nil {
		t.Fatalf("Agenda: %v", err)
	}
	if len(events) != 1 || events[0].ID != 5 {
		t.Errorf("events = %+v", events)
	}
}

func TestAgendaFailure(t *testing.T) {
	c, api := newTestClient(t)
	s := login(t, c)
	api.Fail(0, 0, http.StatusInternalServerError)

	_, err := c.Agenda(context.Background(), s, Today(time.Now()))

	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if ferr.Op != "agenda" || ferr.Status != http.StatusInternalServerError {
		t.Errorf("fetch error = %+v", ferr)
	}
}

func TestAgendaWithoutToken(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Agenda(context.Background(), Session{UserID: testutil.FakeUserID}, Today(time.Now()))

	var ferr *FetchError
	if !errors.As(err, &ferr) || ferr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 *FetchError, got %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://web.spaggiari.eu/rest/v1/students/1234567/agenda/all/20240101/20240201")
	if got != "https://web.spaggiari.eu/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "classeviva://...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}
