// Package testutil provides a fake Classeviva API for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

const (
	FakeUsername = "S1234567X"
	FakePassword = "secret"
	FakeToken    = "fake-token"
	FakeIdent    = "S1234567X"
	FakeUserID   = "1234567"
	FakeAPIKey   = "Tg1NWEwNGIgIC0K"
)

// AgendaRequest records the date range of one agenda call.
type AgendaRequest struct {
	UserID string
	Start  string
	End    string
}

// FakeAPI serves the login, periods and agenda endpoints from memory.
// Fields may be changed between requests; access is guarded by mu.
type FakeAPI struct {
	Server *httptest.Server

	mu sync.Mutex

	// Agenda and Periods are written verbatim as the "agenda" / "periods"
	// arrays.
	Agenda  []map[string]any
	Periods []map[string]any

	// Non-zero values force the corresponding endpoint to fail.
	LoginStatus   int
	AgendaStatus  int
	PeriodsStatus int

	AgendaRequests []AgendaRequest
	LoginBodies    []map[string]any
	Headers        []http.Header
}

// NewFakeAPI starts the server and closes it when the test ends.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{}

	r := chi.NewRouter()
	r.Route("/rest/v1", func(r chi.Router) {
		r.Post("/auth/login", f.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(f.requireToken)
			r.Get("/students/{uid}/periods", f.handlePeriods)
			r.Get("/students/{uid}/agenda/all/{start}/{end}", f.handleAgenda)
		})
	})

	f.Server = httptest.NewServer(f.recordHeaders(r))
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is the value to pass to classeviva.NewClient.
func (f *FakeAPI) BaseURL() string {
	return f.Server.URL + "/rest/v1"
}

// SetAgenda replaces the agenda served to subsequent requests.
func (f *FakeAPI) SetAgenda(events ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Agenda = events
}

// SetPeriods replaces the periods served to subsequent requests.
func (f *FakeAPI) SetPeriods(periods ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Periods = periods
}

// Fail makes every endpoint whose status is non-zero answer with it.
func (f *FakeAPI) Fail(login, periods, agenda int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoginStatus, f.PeriodsStatus, f.AgendaStatus = login, periods, agenda
}

// LastAgendaRequest returns the most recent agenda call.
func (f *FakeAPI) LastAgendaRequest() (AgendaRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.AgendaRequests) == 0 {
		return AgendaRequest{}, false
	}
	return f.AgendaRequests[len(f.AgendaRequests)-1], true
}

// LoginRequests returns a copy of every decoded login body, in order.
func (f *FakeAPI) LoginRequests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.LoginBodies))
	copy(out, f.LoginBodies)
	return out
}

// RequestHeaders returns a copy of every request's headers, in order.
func (f *FakeAPI) RequestHeaders() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]http.Header, len(f.Headers))
	copy(out, f.Headers)
	return out
}

// AgendaEvent builds a JSON agenda item with sensible defaults.
func AgendaEvent(id int, begin, end string, subject any, author string) map[string]any {
	return map[string]any{
		"evtId":            id,
		"evtCode":          "AGNT",
		"evtDatetimeBegin": begin,
		"evtDatetimeEnd":   end,
		"isFullDay":        false,
		"notes":            "Note for event",
		"authorName":       author,
		"classDesc":        "4A INFORMATICA",
		"subjectId":        nil,
		"subjectDesc":      subject,
		"homeworkId":       nil,
	}
}

// Period builds a JSON period item.
func Period(code, start, end string) map[string]any {
	return map[string]any{
		"periodCode": code,
		"periodPos":  1,
		"periodDesc": code,
		"isFinal":    false,
		"dateStart":  start,
		"dateEnd":    end,
		"miniDesc":   "",
	}
}

func (f *FakeAPI) recordHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.Headers = append(f.Headers, r.Header.Clone())
		f.mu.Unlock()

		if r.Header.Get("Z-Dev-Apikey") != FakeAPIKey {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "bad api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Z-Auth-Token") != FakeToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "auth token missing"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	f.LoginBodies = append(f.LoginBodies, body)
	status := f.LoginStatus
	f.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "forced failure"})
		return
	}
	if body["uid"] != FakeUsername || body["pass"] != FakePassword {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "wrong credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ident":     FakeIdent,
		"firstName": "JANE",
		"lastName":  "DOE",
		"token":     FakeToken,
		"release":   "2024-10-08T08:00:00+02:00",
		"expire":    "2024-10-08T09:30:00+02:00",
	})
}

func (f *FakeAPI) handlePeriods(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.PeriodsStatus
	periods := f.Periods
	f.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "forced failure"})
		return
	}
	if chi.URLParam(r, "uid") != FakeUserID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown student"})
		return
	}
	if periods == nil {
		periods = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (f *FakeAPI) handleAgenda(w http.ResponseWriter, r *http.Request) {
	req := AgendaRequest{
		UserID: chi.URLParam(r, "uid"),
		Start:  chi.URLParam(r, "start"),
		End:    chi.URLParam(r, "end"),
	}

	f.mu.Lock()
	f.AgendaRequests = append(f.AgendaRequests, req)
	status := f.AgendaStatus
	agenda := f.Agenda
	f.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "forced failure"})
		return
	}
	if req.UserID != FakeUserID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown student"})
		return
	}
	if agenda == nil {
		agenda = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agenda": agenda})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
