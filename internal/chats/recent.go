package chats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no record exists for a chat.
var ErrNotFound = errors.New("recent chat not found")

// Record is what we remember locally about a chat the user opened.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Assistant string    `json:"assistant,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
}

// Recent stores one JSON file per opened chat.
type Recent struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewRecent returns a store rooted at dir. The directory is created on the
// first write.
func NewRecent(dir string) *Recent {
	return &Recent{dir: dir, now: time.Now}
}

func (r *Recent) path(id string) string {
	// Chat ids come from the server or from uuid; keep them inside dir.
	return filepath.Join(r.dir, filepath.Base(filepath.Clean("/"+id))+".json")
}

// Touch records that a chat was opened now. Empty title or assistant keep
// the previously stored values.
func (r *Recent) Touch(id, title, assistant string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("chat id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := Record{ID: id}
	if prev, err := r.read(id); err == nil {
		rec = *prev
	}
	if title != "" {
		rec.Title = title
	}
	if assistant != "" {
		rec.Assistant = assistant
	}
	rec.OpenedAt = r.now()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create recent dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := os.WriteFile(r.path(id), data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Get returns the record of one chat.
func (r *Recent) Get(id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(id)
}

func (r *Recent) read(id string) (*Record, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return &rec, nil
}

// List returns all records sorted by open time (newest first). Unreadable
// files are skipped.
func (r *Recent) List() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.ID == "" {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].OpenedAt.After(records[j].OpenedAt)
	})

	return records, nil
}

// Last returns the most recently opened chat.
func (r *Recent) Last() (*Record, error) {
	records, err := r.List()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

// Delete removes the record of a chat.
func (r *Recent) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
