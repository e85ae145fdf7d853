package bilibili

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// storedCookie is the on-disk form of one cookie
type storedCookie struct {
	URL     string    `json:"url"`
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// cookieURLs are the origins whose cookies are persisted
func (e Endpoints) cookieURLs() []string {
	return []string{e.WWW + "/", e.API + "/", e.VC + "/", e.Space + "/"}
}

// SetCredentials installs account cookies such as SESSDATA and bili_jct for
// every endpoint origin
func (c *Client) SetCredentials(cookies map[string]string) {
	for _, raw := range c.endpoints.cookieURLs() {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		list := make([]*http.Cookie, 0, len(cookies))
		for name, value := range cookies {
			list = append(list, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		c.httpClient.Jar.SetCookies(u, list)
	}
	c.logger.DebugWithFields("credentials installed", map[string]interface{}{
		"cookies": len(cookies),
	})
}

// SaveCookies writes the jar's cookies for every endpoint origin to path
func (c *Client) SaveCookies(path string) error {
	var stored []storedCookie
	for _, raw := range c.endpoints.cookieURLs() {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		for _, ck := range c.httpClient.Jar.Cookies(u) {
			stored = append(stored, storedCookie{URL: raw, Name: ck.Name, Value: ck.Value, Path: "/"})
		}
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// LoadCookies restores cookies written by SaveCookies. A missing file is
// not an error.
func (c *Client) LoadCookies(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cookies: %w", err)
	}

	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return 0, fmt.Errorf("failed to parse cookies: %w", err)
	}

	now := time.Now()
	loaded := 0
	for _, sc := range stored {
		if !sc.Expires.IsZero() && sc.Expires.Before(now) {
			continue
		}
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		c.httpClient.Jar.SetCookies(u, []*http.Cookie{{Name: sc.Name, Value: sc.Value, Path: sc.Path, Expires: sc.Expires}})
		loaded++
	}
	return loaded, nil
}
