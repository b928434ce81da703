package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskdesk/internal/auth"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// session lazily loads the persisted CLI credentials.
var session *auth.Session

func getSession() *auth.Session {
	if session == nil {
		s, err := auth.NewSession("")
		if err == nil {
			session = s
		}
	}
	return session
}

// bearerToken returns the stored token, or empty when not logged in.
func bearerToken() string {
	s := getSession()
	if s == nil {
		return ""
	}
	token, err := s.Token()
	if err != nil {
		return ""
	}
	return token
}

func apiDo(method, path string, data any) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, extractError(raw, resp.StatusCode))
	}
	return raw, nil
}

// extractError pulls the error message from the JSON envelope, falling
// back to the raw status text.
func extractError(raw []byte, status int) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

func apiPost(path string, data any) ([]byte, error) {
	return apiDo(http.MethodPost, path, data)
}

func apiPut(path string, data any) ([]byte, error) {
	return apiDo(http.MethodPut, path, data)
}

func apiDelete(path string) ([]byte, error) {
	return apiDo(http.MethodDelete, path, nil)
}
