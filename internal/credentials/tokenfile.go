package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// TokenEntry is one stored account.
type TokenEntry struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
}

// TokenFile is a JSON array of TokenEntry on disk. A single object is also
// accepted when reading.
type TokenFile struct {
	path string
	mu   sync.Mutex
}

func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

// Lookup returns the refresh token stored for email, or "".
func (f *TokenFile) Lookup(email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.read()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.EqualFold(strings.TrimSpace(e.Email), strings.TrimSpace(email)) {
			return e.RefreshToken, nil
		}
	}
	return "", nil
}

// Put stores or replaces the refresh token for email.
func (f *TokenFile) Put(email, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if strings.EqualFold(entries[i].Email, email) {
			entries[i].RefreshToken = refreshToken
			replaced = true
		}
	}
	if !replaced {
		entries = append(entries, TokenEntry{Email: email, RefreshToken: refreshToken})
	}
	return f.write(entries)
}

func (f *TokenFile) read() ([]TokenEntry, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var one TokenEntry
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, fmt.Errorf("parse token file: %w", err)
		}
		return []TokenEntry{one}, nil
	}
	var entries []TokenEntry
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return entries, nil
}

func (f *TokenFile) write(entries []TokenEntry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
