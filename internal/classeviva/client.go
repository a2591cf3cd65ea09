// Package classeviva talks to the Classeviva student REST API: login,
// school periods and the agenda.
package classeviva

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	appLog "gv2cal/internal/log"
	"gv2cal/internal/model"
)

const (
	DefaultBaseURL   = "https://web.spaggiari.eu/rest/v1"
	DefaultUserAgent = "CVVS/std/4.1.7 Android/n10"
	DefaultAPIKey    = "Tg1NWEwNGIgIC0K"
	DefaultTimeout   = 30 * time.Second

	headerAPIKey    = "Z-Dev-Apikey"
	headerAuthToken = "Z-Auth-Token"
)

// identPattern matches student idents such as "S1234567X".
var identPattern = regexp.MustCompile(`^[A-Za-z]\d+[A-Za-z]$`)

// Identity is the fixed client identification sent with every request.
type Identity struct {
	UserAgent string
	APIKey    string
}

// Credentials are the student's login.
type Credentials struct {
	Username string
	Password string
}

// Session is an authenticated Classeviva session.
type Session struct {
	Token string
	// Ident is the raw login ident, e.g. "S1234567X".
	Ident string
	// UserID is Ident without its type prefix and check letter, e.g. "1234567".
	UserID    string
	FirstName string
	LastName  string
	// Expires is zero if the API did not send a parseable expiry.
	Expires time.Time
}

// Name is the student's display name as sent by the API.
func (s Session) Name() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Client is a thin Classeviva API client. It performs no retries.
type Client struct {
	baseURL  string
	identity Identity
	client   *http.Client
}

// NewClient creates a Client. Empty arguments fall back to the defaults.
func NewClient(baseURL string, identity Identity, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if identity.UserAgent == "" {
		identity.UserAgent = DefaultUserAgent
	}
	if identity.APIKey == "" {
		identity.APIKey = DefaultAPIKey
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type loginRequest struct {
	Ident *string `json:"ident"`
	Pass  string  `json:"pass"`
	UID   string  `json:"uid"`
}

type loginResponse struct {
	Ident     string `json:"ident"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Token     string `json:"token"`
	Release   string `json:"release"`
	Expire    string `json:"expire"`
}

func (r *loginResponse) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Ident, validation.Required, validation.Match(identPattern)),
	)
}

// Login authenticates and returns a session. Any non-200 answer, or a
// 200 answer without a usable token and ident, is an *AuthenticationError.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	body := loginRequest{Ident: nil, Pass: creds.Password, UID: creds.Username}

	var resp loginResponse
	status, err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &resp)
	if err != nil {
		return Session{}, &AuthenticationError{Status: status, Err: err}
	}
	if err := resp.Validate(); err != nil {
		return Session{}, &AuthenticationError{Status: status, Err: fmt.Errorf("invalid login response: %w", err)}
	}

	s := Session{
		Token:     resp.Token,
		Ident:     resp.Ident,
		UserID:    UserIDFromIdent(resp.Ident),
		FirstName: resp.FirstName,
		LastName:  resp.LastName,
	}
	if resp.Expire != "" {
		if t, err := time.Parse(time.RFC3339, resp.Expire); err == nil {
			s.Expires = t
		}
	}

	appLog.Info("authenticated with classeviva", "student", s.Name(), "user_id", s.UserID, "expires", s.Expires.Format(time.RFC3339))
	return s, nil
}

// UserIDFromIdent strips the leading type letter and the trailing check
// letter from an ident: "S1234567X" -> "1234567".
func UserIDFromIdent(ident string) string {
	if len(ident) < 2 {
		return ""
	}
	return ident[1 : len(ident)-1]
}

type agendaResponse struct {
	Agenda []model.AgendaEvent `json:"agenda"`
}

// Agenda fetches every agenda event in iv for the session's student.
// Events missing an id or timestamps are dropped with a warning.
func (c *Client) Agenda(ctx context.Context, s Session, iv Interval) ([]model.AgendaEvent, error) {
	path := fmt.Sprintf("/students/%s/agenda/all/%s/%s",
		url.PathEscape(s.UserID), iv.StartParam(), iv.EndParam())

	var resp agendaResponse
	status, err := c.do(ctx, http.MethodGet, path, s.Token, nil, &resp)
	if err != nil {
		return nil, &FetchError{Op: "agenda", Status: status, Err: err}
	}

	out := make([]model.AgendaEvent, 0, len(resp.Agenda))
	for i := range resp.Agenda {
		ev := resp.Agenda[i]
		if err := validateEvent(&ev); err != nil {
			appLog.Warn("dropping malformed agenda event", err, "index", i, "evt_id", ev.ID)
			continue
		}
		out = append(out, ev)
	}

	appLog.Info("fetched agenda items", "count", len(out), "start", iv.StartParam(), "end", iv.EndParam())
	return out, nil
}

func validateEvent(ev *model.AgendaEvent) error {
	return validation.ValidateStruct(ev,
		validation.Field(&ev.ID, validation.Required),
		validation.Field(&ev.Begin, validation.Required),
		validation.Field(&ev.End, validation.Required),
	)
}

// do sends one request with the fixed headers and decodes a 200 JSON
// answer into out. The returned status is 0 when no response was read.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.identity.UserAgent)
	req.Header.Set(headerAPIKey, c.identity.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(headerAuthToken, token)
	}

	appLog.Debug("classeviva request", "method", method, "url", redactURL(fullURL))

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, err
		}
		if out == nil {
			return resp.StatusCode, nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", redactURL(fullURL), err)
		}
		return resp.StatusCode, nil

	default:
		// Keep a short excerpt of the body; the API explains most failures there.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(excerpt))
		if msg == "" {
			return resp.StatusCode, errors.New(resp.Status)
		}
		return resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, msg)
	}
}

// redactURL keeps scheme and host only, so student ids and query strings
// stay out of the logs.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "classeviva://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
