// Package registry persists the "first seen" record of agenda events.
//
// The whole document lives in one JSON file:
//
//	{ "events": [ { "evtId": 1, "firstSeenDate": "2024-10-08T06:00:00Z" } ] }
//
// It is loaded fully, changed in memory by the caller and rewritten fully.
// There is no locking; concurrent runs are last-writer-wins.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gv2cal/internal/fsutil"
	appLog "gv2cal/internal/log"
)

// Entry records when a single agenda event was first observed.
type Entry struct {
	EventID   int       `json:"evtId"`
	FirstSeen time.Time `json:"firstSeenDate"`
}

// Document is the ordered list of entries stored in the registry file.
type Document struct {
	Events []Entry `json:"events"`
}

// Lookup returns the first-seen time recorded for id.
func (d Document) Lookup(id int) (time.Time, bool) {
	for _, e := range d.Events {
		if e.EventID == id {
			return e.FirstSeen, true
		}
	}
	return time.Time{}, false
}

// Index maps event ids to first-seen times. The first entry wins when a
// hand-edited file carries duplicates.
func (d Document) Index() map[int]time.Time {
	idx := make(map[int]time.Time, len(d.Events))
	for _, e := range d.Events {
		if _, ok := idx[e.EventID]; !ok {
			idx[e.EventID] = e.FirstSeen
		}
	}
	return idx
}

// Clone returns a copy that shares no backing array with d.
func (d Document) Clone() Document {
	out := Document{Events: make([]Entry, len(d.Events))}
	copy(out.Events, d.Events)
	return out
}

// Len is the number of entries.
func (d Document) Len() int { return len(d.Events) }

// ReadError is returned when the registry file exists but cannot be read
// or decoded.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("registry: read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError is returned when the registry file cannot be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("registry: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store reads and writes the registry document at a fixed path.
type Store struct {
	path string
}

// NewStore returns a Store for path. Nothing is touched on disk until
// Init, Load or Save is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the registry file path.
func (s *Store) Path() string { return s.path }

// Init writes an empty document if the registry file does not exist yet.
// It reports whether a file was created.
func (s *Store) Init() (bool, error) {
	if s.path == "" {
		return false, &WriteError{Path: s.path, Err: errors.New("registry path is empty")}
	}
	_, err := os.Stat(s.path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, &ReadError{Path: s.path, Err: err}
	}

	if err := s.Save(Document{}); err != nil {
		return false, err
	}
	appLog.Info("registry initialized", "path", s.path)
	return true, nil
}

// Load reads the whole document, creating an empty one first if needed.
func (s *Store) Load() (Document, error) {
	if _, err := s.Init(); err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, &ReadError{Path: s.path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{Events: []Entry{}}, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, &ReadError{Path: s.path, Err: err}
	}
	if doc.Events == nil {
		doc.Events = []Entry{}
	}

	appLog.Debug("registry loaded", "path", s.path, "entries", len(doc.Events))
	return doc, nil
}

// Save rewrites the registry file with doc.
func (s *Store) Save(doc Document) error {
	if s.path == "" {
		return &WriteError{Path: s.path, Err: errors.New("registry path is empty")}
	}
	if doc.Events == nil {
		doc.Events = []Entry{}
	}

	out := doc.Clone()
	for i := range out.Events {
		out.Events[i].FirstSeen = out.Events[i].FirstSeen.UTC()
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(s.path, data, 0o644, ".registry-*.tmp"); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}
