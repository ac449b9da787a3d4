package looper

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type (
	// LogHistory is a logrus hook remembering the latest log entries, so they
	// can be shown in the UI or attached to a bug report.
	LogHistory struct {
		size int

		mu      sync.Mutex
		entries []LogEntry
		next    int
		full    bool
	}

	LogEntry struct {
		Time    time.Time      `json:"time"`
		Level   string         `json:"level"`
		Message string         `json:"message"`
		Fields  map[string]any `json:"fields,omitempty"`
	}
)

const DefaultLogHistorySize = 1000

func NewLogHistory(size int) *LogHistory {
	if size <= 0 {
		size = DefaultLogHistorySize
	}
	return &LogHistory{size: size, entries: make([]LogEntry, size)}
}

func (h *LogHistory) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LogHistory) Fire(e *logrus.Entry) error {
	entry := LogEntry{Time: e.Time, Level: e.Level.String(), Message: e.Message}
	if len(e.Data) > 0 {
		entry.Fields = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			entry.Fields[k] = v
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = entry
	h.next++
	if h.next == h.size {
		h.next = 0
		h.full = true
	}
	return nil
}

// Entries returns the remembered entries, oldest first.
func (h *LogHistory) Entries() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]LogEntry(nil), h.entries[:h.next]...)
	}
	ret := make([]LogEntry, 0, h.size)
	ret = append(ret, h.entries[h.next:]...)
	return append(ret, h.entries[:h.next]...)
}

func (h *LogHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.entries)
	h.next = 0
	h.full = false
}

// Export writes the entries as an indented JSON array.
func (h *LogHistory) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(h.Entries())
}
