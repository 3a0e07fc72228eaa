package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// errNotProvisioned is returned when the device redirects to setup.
var errNotProvisioned = errors.New("device is not provisioned; run `nosfwctl setup` first")

// APIError is the device's typed error envelope.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected status: %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// APIClient handles communication with the device. The upload client has no
// overall timeout; the device bounds uploads.
type APIClient struct {
	baseURL      string
	user         string
	password     string
	httpClient   *http.Client
	uploadClient *http.Client
}

// noRedirect keeps a 303 to /api/setup as the answer.
func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func newAPIClient(baseURL, user, password string) *APIClient {
	return &APIClient{
		baseURL:      baseURL,
		user:         user,
		password:     password,
		httpClient:   &http.Client{Timeout: 30 * time.Second, CheckRedirect: noRedirect},
		uploadClient: &http.Client{CheckRedirect: noRedirect},
	}
}

func (c *APIClient) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	return req, nil
}

func (c *APIClient) do(req *http.Request) ([]byte, error) {
	return c.doWith(c.httpClient, req)
}

func (c *APIClient) doWith(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusSeeOther {
		return nil, errNotProvisioned
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env struct {
			Error APIError `json:"error"`
		}
		_ = json.Unmarshal(respBody, &env)
		env.Error.Status = resp.StatusCode
		return nil, &env.Error
	}
	return respBody, nil
}

// doJSON sends body as JSON and decodes the response into out when non-nil.
func (c *APIClient) doJSON(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := c.newRequest(method, path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	data, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *APIClient) status() (map[string]any, error) {
	var out map[string]any
	return out, c.doJSON(http.MethodGet, "/api/status", nil, &out)
}

func (c *APIClient) setup(user, pass, confirm string) error {
	body := map[string]string{"username": user, "password": pass, "confirm": confirm}
	return c.doJSON(http.MethodPost, "/api/setup", body, nil)
}

func (c *APIClient) getConfig() (map[string]any, error) {
	var out map[string]any
	return out, c.doJSON(http.MethodGet, "/api/config", nil, &out)
}

func (c *APIClient) setConfig(patch map[string]any) (map[string]any, error) {
	var out map[string]any
	return out, c.doJSON(http.MethodPost, "/api/config", patch, &out)
}

func (c *APIClient) reboot() error {
	return c.doJSON(http.MethodPost, "/api/reboot", nil, nil)
}

// flash streams an image of size bytes.
func (c *APIClient) flash(image io.Reader, size int64, label, digest string) (map[string]any, error) {
	req, err := c.newRequest(http.MethodPost, "/api/firmware", image)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Firmware-Size", strconv.FormatInt(size, 10))
	req.Header.Set("X-Firmware-Label", label)
	if digest != "" {
		req.Header.Set("X-Firmware-Digest", digest)
	}

	data, err := c.doWith(c.uploadClient, req)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	return out, json.Unmarshal(data, &out)
}
