package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// LogEntry is one turn of a scope's append-only conversation log
// (the memory.json projection, kept alongside the vectorized documents).
type LogEntry struct {
	Timestamp        string `json:"timestamp"`
	HumanMessage     string `json:"human_message"`
	AssistantMessage string `json:"assistant_message,omitempty"`
	SenderName       string `json:"sender_name,omitempty"`
	IsMention        bool   `json:"is_mention,omitempty"`
}

// ConversationLog is the flat per-scope conversation history file:
// {scope_id: [entries...]}. Legacy files may contain malformed keys (raw
// timestamp-prefixed messages instead of stable speaker ids); those are
// repaired once at load time and the repaired file is persisted so the pass
// never re-runs on the same data.
type ConversationLog struct {
	mu      sync.Mutex
	path    string
	entries map[string][]*LogEntry
}

// Legacy-key repair patterns. A malformed key is itself a timestamp-prefixed
// raw message, e.g. "[2024-01-01 10:00]ta 私聊对你说：hello".
var (
	malformedKeyPattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}(?::\d{2})?\]`)

	// Increasingly permissive extraction cascade for the true speaker id.
	identityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\](\S+?)\s*私聊对你说`),
		regexp.MustCompile(`\](\S+?)\s*对你说`),
		regexp.MustCompile(`\]\s*([\p{Han}A-Za-z0-9_\-]+)`),
	}

	legacyMessagePattern = regexp.MustCompile(`[：:](.*)$`)
)

// OpenConversationLog loads (or lazily creates) the conversation log backing
// file and runs the one-time identity repair pass.
func OpenConversationLog(dataDir, name string) (*ConversationLog, error) {
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create log directory %s", dir)
	}

	l := &ConversationLog{
		path:    filepath.Join(dir, sanitizeScopeID(name)+".json"),
		entries: make(map[string][]*LogEntry),
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, errors.Wrapf(err, "unable to read conversation log %s", l.path)
	}

	if err := json.Unmarshal(data, &l.entries); err != nil {
		slog.Error("conversation log corrupt, reinitializing empty (data lost)",
			"path", l.path, "error", err)
		l.entries = make(map[string][]*LogEntry)
		return l, nil
	}

	if l.repairIdentities() {
		if err := l.persistLocked(); err != nil {
			slog.Warn("unable to persist repaired conversation log", "path", l.path, "error", err)
		}
	}
	return l, nil
}

// Append records one turn under the given scope id and persists synchronously.
func (l *ConversationLog) Append(scopeID string, entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[scopeID] = append(l.entries[scopeID], entry)
	return l.persistLocked()
}

// Recent returns the last limit entries of a scope in chronological order.
func (l *ConversationLog) Recent(scopeID string, limit int) []*LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries[scopeID]
	if limit <= 0 || len(entries) == 0 {
		return nil
	}
	start := len(entries) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*LogEntry, len(entries)-start)
	copy(out, entries[start:])
	return out
}

// Size returns the number of entries recorded for a scope.
func (l *ConversationLog) Size(scopeID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[scopeID])
}

// Scopes returns all scope ids present in the log.
func (l *ConversationLog) Scopes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for scopeID := range l.entries {
		out = append(out, scopeID)
	}
	return out
}

// Clear drops all entries for a scope.
func (l *ConversationLog) Clear(scopeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, scopeID)
	return l.persistLocked()
}

// repairIdentities migrates malformed legacy keys to recovered speaker ids and
// fixes entries whose human/assistant fields were swapped (field value equals
// the scope id). Returns true when anything changed.
func (l *ConversationLog) repairIdentities() bool {
	changed := false

	for key, entries := range l.entries {
		if !malformedKeyPattern.MatchString(key) {
			// Field-swap repair also applies to well-formed scopes.
			for _, e := range entries {
				if e.HumanMessage == key && e.AssistantMessage != "" && e.AssistantMessage != key {
					e.HumanMessage, e.AssistantMessage = e.AssistantMessage, e.HumanMessage
					changed = true
				}
			}
			continue
		}

		recovered := recoverSpeakerID(key)
		if recovered == "" || recovered == key {
			slog.Warn("unable to recover speaker id from malformed log key", "key", key)
			continue
		}

		// The key itself embeds one legacy message; synthesize an entry for it
		// when the key's list carries nothing.
		if len(entries) == 0 {
			if e := legacyEntryFromKey(key); e != nil {
				entries = []*LogEntry{e}
			}
		}
		for _, e := range entries {
			if e.HumanMessage == key || e.HumanMessage == recovered {
				if e.AssistantMessage != "" && e.AssistantMessage != key && e.AssistantMessage != recovered {
					e.HumanMessage, e.AssistantMessage = e.AssistantMessage, e.HumanMessage
				}
			}
		}

		l.entries[recovered] = append(l.entries[recovered], entries...)
		delete(l.entries, key)
		changed = true
		slog.Info("repaired malformed conversation log key",
			"recovered_id", recovered, "merged_entries", len(entries))
	}

	return changed
}

// recoverSpeakerID extracts the true speaker id from a malformed key via the
// pattern cascade.
func recoverSpeakerID(key string) string {
	for _, pattern := range identityPatterns {
		if m := pattern.FindStringSubmatch(key); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// legacyEntryFromKey rebuilds a log entry from the message embedded in a
// malformed key.
func legacyEntryFromKey(key string) *LogEntry {
	ts := strings.Trim(malformedKeyPattern.FindString(key), "[]")
	rest := malformedKeyPattern.ReplaceAllString(key, "")
	msg := rest
	if m := legacyMessagePattern.FindStringSubmatch(rest); m != nil {
		msg = strings.TrimSpace(m[1])
	}
	if msg == "" {
		return nil
	}
	return &LogEntry{
		Timestamp:    ts,
		HumanMessage: msg,
	}
}

// persistLocked rewrites the backing file. Caller holds l.mu (or runs before
// the log is shared).
func (l *ConversationLog) persistLocked() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "unable to write conversation log %s", l.path)
	}
	return os.Rename(tmp, l.path)
}
