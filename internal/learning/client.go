package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zaikaman/forgedeploy/internal/project"
)

// HTTPClient talks to a remote learning collaborator service.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logf       func(string, ...any)
}

// NewHTTPClient builds a client for the learning service at baseURL.
func NewHTTPClient(baseURL, apiKey string, logf func(string, ...any)) *HTTPClient {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logf: logf,
	}
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("learning service error: status %d", resp.StatusCode)
	}
	return respBody, nil
}

// CaptureFailure posts one failed attempt to the learning service.
func (c *HTTPClient) CaptureFailure(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int, target, runtime string) (string, error) {
	payload := map[string]any{
		"files":        fs.Files(),
		"errorMessage": errMsg,
		"rawLog":       rawLog,
		"attempt":      attempt,
		"targetId":     target,
		"runtime":      runtime,
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/v1/failures", payload)
	if err != nil {
		return "", err
	}

	var response struct {
		FailureID string `json:"failureId"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if response.FailureID == "" {
		return "", fmt.Errorf("learning service returned no failure id")
	}
	return response.FailureID, nil
}

// MarkResolved flags a captured failure as fixed.
func (c *HTTPClient) MarkResolved(ctx context.Context, failureID, description string) error {
	payload := map[string]any{"description": description}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/failures/"+failureID+"/resolve", payload)
	return err
}
