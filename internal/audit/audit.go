package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Operations recorded in the audit log.
const (
	OpRegister      = "register"
	OpLogin         = "login"
	OpLogout        = "logout"
	OpFamilyCreate  = "family-create"
	OpFamilyExport  = "family-export"
	OpFamilyImport  = "family-import"
	OpFamilyBackup  = "family-backup"
	OpFamilyRestore = "family-restore"
	OpFamilyClear   = "family-clear"
	OpInviteIssue   = "invite-issue"
	OpInviteCancel  = "invite-cancel"
	OpInviteAccept  = "invite-accept"
	OpJoin          = "join"
	OpEncrypt       = "encrypt"
	OpDecrypt       = "decrypt"
)

// TimestampFormat is RFC3339 with microseconds in UTC.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Entry is a single audit log line. It never carries key material.
type Entry struct {
	Timestamp string `json:"ts"`
	User      string `json:"user"`
	UserID    string `json:"user_id"`
	Operation string `json:"op"`

	FamilyID   string   `json:"family_id,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Method     string   `json:"method,omitempty"`  // For invite-issue: packaged or targeted.
	Invitee    string   `json:"invitee,omitempty"` // For targeted invites.
	InviteCode string   `json:"invite_code,omitempty"`
	Device     string   `json:"device,omitempty"`
	Files      []string `json:"files,omitempty"`
	Count      int      `json:"count,omitempty"` // Messages in a batch.
}

// Log appends an entry to the audit log at path.
// Failures are swallowed: an operation never fails because auditing did.
func Log(path string, entry Entry) {
	if path == "" {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}

// ReadEntries reads every entry from the audit log at path.
// A missing log yields no entries.
func ReadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEntries(data)
}

// ParseEntries parses JSON Lines. Malformed lines, such as a torn final write, are skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

// Filter selects entries. Empty fields match everything.
type Filter struct {
	Operation string
	FamilyID  string
	Since     time.Time
}

// Apply returns the entries matching f, preserving order.
func (f Filter) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.FamilyID != "" && e.FamilyID != f.FamilyID {
			continue
		}
		if !f.Since.IsZero() {
			ts, err := time.Parse(TimestampFormat, e.Timestamp)
			if err != nil || ts.Before(f.Since) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
