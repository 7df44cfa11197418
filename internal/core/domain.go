package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type (
	// Credentials are the basic-auth pair attached to every backend request.
	// They live only in memory for the lifetime of a session.
	Credentials struct {
		Username string
		Password string
	}

	// DatasetID is the server-assigned identifier of an uploaded dataset.
	// Zero means "unknown".
	DatasetID int64

	// HistoryEntry is one past upload as reported by the analysis service.
	HistoryEntry struct {
		ID         DatasetID `json:"id"`
		Filename   string    `json:"filename"`
		UploadedAt string    `json:"uploaded_at,omitempty"`
		Summary    Summary   `json:"summary"`
	}

	// UploadResult is the analysis service response to a dataset upload.
	UploadResult struct {
		ID      DatasetID `json:"id"`
		Summary Summary   `json:"summary"`
	}

	// Report is a rendered PDF report for one dataset.
	Report struct {
		DatasetID   DatasetID
		Filename    string
		ContentType string
		Data        []byte
	}
)

var (
	ErrEmptyUsername = errors.New("empty username")
	ErrEmptyPassword = errors.New("empty password")
	ErrInvalidID     = errors.New("invalid dataset id")
)

// NewCredentials trims both fields the way the login form submits them.
func NewCredentials(username, password string) Credentials {
	return Credentials{
		Username: strings.TrimSpace(username),
		Password: strings.TrimSpace(password),
	}
}

func (c Credentials) Validate() error {
	if c.Username == "" {
		return ErrEmptyUsername
	}
	if c.Password == "" {
		return ErrEmptyPassword
	}
	return nil
}

// IsZero reports whether no credentials are held.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// String never reveals the password.
func (c Credentials) String() string {
	return c.Username + ":***"
}

// ParseDatasetID parses a positive decimal identifier.
func ParseDatasetID(s string) (DatasetID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return DatasetID(n), nil
}

func (id DatasetID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Valid reports whether the id was assigned by the server.
func (id DatasetID) Valid() bool {
	return id > 0
}

// ReportFilename is the local file name a report for this dataset is saved under.
func (id DatasetID) ReportFilename() string {
	return "report_" + id.String() + ".pdf"
}

// FindEntry returns the history entry with the given id.
func FindEntry(history []HistoryEntry, id DatasetID) (HistoryEntry, bool) {
	for _, e := range history {
		if e.ID == id {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

// NewestByFilename returns the first entry with the given filename. History is
// ordered newest first by the analysis service.
func NewestByFilename(history []HistoryEntry, filename string) (HistoryEntry, bool) {
	for _, e := range history {
		if e.Filename == filename {
			return e, true
		}
	}
	return HistoryEntry{}, false
}
