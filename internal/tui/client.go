package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"taskdesk/internal/models"
)

// Client is a thin HTTP client for the dashboard.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given API address.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return fmt.Errorf("%s", body.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return fmt.Errorf("%s", body.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// ListTasks fetches all tasks, optionally filtered by status.
func (c *Client) ListTasks(status string) ([]*models.Task, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + status
	}
	var tasks []*models.Task
	if err := c.get(path, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(id string) (*models.Task, error) {
	var task models.Task
	if err := c.get("/api/tasks/"+id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Stats fetches the status aggregates.
func (c *Client) Stats() (*models.TaskStats, error) {
	var stats models.TaskStats
	if err := c.get("/api/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(id, details string) error {
	return c.post("/api/tasks/"+id+"/complete", map[string]string{"details": details}, nil)
}

// ReturnTask sends a task back for completion.
func (c *Client) ReturnTask(id, reason string) error {
	return c.post("/api/tasks/"+id+"/return", map[string]string{"reason": reason}, nil)
}

// ResubmitTask moves a returned task back to new.
func (c *Client) ResubmitTask(id, response string) error {
	return c.post("/api/tasks/"+id+"/resubmit", map[string]string{"response": response}, nil)
}
