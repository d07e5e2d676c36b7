// Package vault is a thin client for the external secret store's KV v2 API:
// get and put by path, nothing more.
package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client accesses a KV v2 mount over HTTP.
type Client struct {
	addr  string
	token string
	mount string
	http  *http.Client
}

// New creates a Client for the given vault address, token and KV mount.
func New(addr, token, mount string) *Client {
	return &Client{
		addr:  addr,
		token: token,
		mount: mount,
		http:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) dataURL(path string) string {
	return fmt.Sprintf("%s/v1/%s/data/%s", c.addr, c.mount, path)
}

// Get reads the secret at path. Callers are responsible for checking that the
// fields they need are present.
func (c *Client) Get(path string) (map[string]string, error) {
	req, err := http.NewRequest(http.MethodGet, c.dataURL(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault get %s: status %d", path, resp.StatusCode)
	}

	var body struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("vault get %s: decode: %w", path, err)
	}
	return body.Data.Data, nil
}

// Put writes the secret at path.
func (c *Client) Put(path string, data map[string]string) error {
	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.dataURL(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-Vault-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vault put %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("vault put %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// EnsureMount creates the KV v2 mount if it does not already exist. A 400
// from the mount endpoint means the mount is already there.
func (c *Client) EnsureMount() error {
	payload := []byte(`{"type":"kv","options":{"version":"2"}}`)
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/sys/mounts/%s", c.addr, c.mount), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-Vault-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vault mount %s: %w", c.mount, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusBadRequest:
		return nil
	default:
		return fmt.Errorf("vault mount %s: status %d", c.mount, resp.StatusCode)
	}
}
