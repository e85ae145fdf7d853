package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Cookie names the platform issues on login
const (
	CookieSESSDATA   = "SESSDATA"
	CookieBiliJct    = "bili_jct"
	CookieDedeUserID = "DedeUserID"
	CookieBuvid3     = "buvid3"
)

// Account is one stored Bilibili login
type Account struct {
	// Name labels the account; defaults to the DedeUserID
	Name         string    `json:"name"`
	SESSDATA     string    `json:"sessdata"`
	BiliJct      string    `json:"bili_jct"`
	DedeUserID   string    `json:"dede_user_id"`
	Buvid3       string    `json:"buvid3,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks the cookies required for an authenticated session
func (a *Account) Validate() error {
	if a == nil {
		return ErrInvalidCredentials
	}
	if a.SESSDATA == "" {
		return errors.New("SESSDATA is required")
	}
	if a.BiliJct == "" {
		return errors.New("bili_jct is required")
	}
	if a.DedeUserID == "" {
		return errors.New("DedeUserID is required")
	}
	return nil
}

// Cookies returns the account as a cookie name to value map
func (a *Account) Cookies() map[string]string {
	cookies := map[string]string{
		CookieSESSDATA:   a.SESSDATA,
		CookieBiliJct:    a.BiliJct,
		CookieDedeUserID: a.DedeUserID,
	}
	if a.Buvid3 != "" {
		cookies[CookieBuvid3] = a.Buvid3
	}
	return cookies
}

// ParseCookieHeader builds an account from a browser "Cookie:" header value
func ParseCookieHeader(header string) *Account {
	a := &Account{}
	header = strings.TrimPrefix(strings.TrimSpace(header), "Cookie:")
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(name) {
		case CookieSESSDATA:
			a.SESSDATA = value
		case CookieBiliJct:
			a.BiliJct = value
		case CookieDedeUserID:
			a.DedeUserID = value
		case CookieBuvid3:
			a.Buvid3 = value
		}
	}
	a.Name = a.DedeUserID
	return a
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific account name
	Retrieve(name string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific account name
	Delete(name string) error

	// Exists checks if credentials exist for a name
	Exists(name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore

	// currentFile remembers the account picked by Switch; empty disables it
	currentFile string
}

// NewManager creates a credential manager rooted at dir. An empty dir uses
// the platform config directory.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
	}

	var stores []CredentialStore

	// Try keyring first (system keychain)
	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Environment variables are read-only and come last
	stores = append(stores, NewEnvironmentStore())

	return &Manager{
		stores:      stores,
		currentFile: filepath.Join(dir, "current_account"),
	}, nil
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if account.Name == "" {
		account.Name = account.DedeUserID
	}
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(name string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(name); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// RetrieveDefault resolves the account to use. Preference order: the named
// account, environment variables, the switched-to account, the most recently
// modified one.
func (m *Manager) RetrieveDefault(name string) (*Account, error) {
	if name != "" {
		return m.Retrieve(name)
	}

	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if account, err := env.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	if current := m.Current(); current != "" {
		if account, err := m.Retrieve(current); err == nil {
			return account, nil
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		sort.SliceStable(accounts, func(i, j int) bool {
			return accounts[i].LastModified.After(accounts[j].LastModified)
		})
		return accounts[0], nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns all stored accounts from all stores sorted by name
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := accountMap[account.Name]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Name] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
	}

	if m.Current() == name {
		_ = m.SetCurrent("")
	}
	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		_ = m.Delete(account.Name) // Ignore individual errors
	}

	return nil
}

// SetCurrent records name as the default account. An empty name clears it.
func (m *Manager) SetCurrent(name string) error {
	if m.currentFile == "" {
		return nil
	}
	if name == "" {
		if err := os.Remove(m.currentFile); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if _, err := m.Retrieve(name); err != nil {
		return err
	}
	return os.WriteFile(m.currentFile, []byte(name), 0600)
}

// Current returns the account set by SetCurrent, if any
func (m *Manager) Current() string {
	if m.currentFile == "" {
		return ""
	}
	data, err := os.ReadFile(m.currentFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "bilisub")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "bilisub")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "bilisub")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "bilisub")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount returns a copy of the account with cookie values masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Name:         account.Name,
		SESSDATA:     maskString(account.SESSDATA),
		BiliJct:      maskString(account.BiliJct),
		DedeUserID:   account.DedeUserID,
		Buvid3:       maskString(account.Buvid3),
		UserAgent:    account.UserAgent,
		LastModified: account.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
