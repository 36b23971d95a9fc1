// Package repair talks to the external repair agent service: it ships the
// failing file set plus failure context and validates the corrected file set
// the agent returns.
package repair

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

// DefaultTimeout bounds one repair round-trip. The agent is LLM-backed and
// slow; anything past this is treated as declined.
const DefaultTimeout = 2 * time.Minute

// Client is the HTTP client for the repair agent.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logf       func(string, ...any)
}

// NewClient builds a repair client. A zero timeout falls back to
// DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, logf func(string, ...any)) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logf: logf,
	}
}

type requestPayload struct {
	ErrorSummary string         `json:"errorSummary"`
	RawLog       string         `json:"rawLog"`
	Attempt      int            `json:"attempt"`
	CurrentFiles []project.File `json:"currentFiles"`
}

type responsePayload struct {
	Files   []responseFile `json:"files"`
	Summary string         `json:"summary"`
}

type responseFile struct {
	Path string `json:"path"`
	// Content is raw so non-string values can be detected and serialized
	// instead of failing the whole reply.
	Content json.RawMessage `json:"content"`
}

// RequestFix asks the repair agent for a corrected file set. The second
// return is false whenever repair is unavailable: not configured, timed out,
// or the reply failed validation. It never returns an error; a declined
// repair is an expected outcome, not a fault.
func (c *Client) RequestFix(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int) (project.FileSet, bool) {
	if c.baseURL == "" {
		c.logf("[repair] no repair agent configured, declining")
		return project.FileSet{}, false
	}

	payload := requestPayload{
		ErrorSummary: errMsg,
		RawLog:       rawLog,
		Attempt:      attempt,
		CurrentFiles: fs.Files(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logf("[repair] failed to encode request: %v", err)
		return project.FileSet{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/repair", bytes.NewReader(body))
	if err != nil {
		c.logf("[repair] failed to build request: %v", err)
		return project.FileSet{}, false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	c.logf("[repair] requesting fix (attempt %d, %d files)", attempt, fs.Len())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logf("[repair] request failed: %v", err)
		return project.FileSet{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logf("[repair] agent returned status %d", resp.StatusCode)
		return project.FileSet{}, false
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logf("[repair] failed to read reply: %v", err)
		return project.FileSet{}, false
	}

	var parsed responsePayload
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.logf("[repair] malformed reply: %v", err)
		return project.FileSet{}, false
	}

	fixed, err := normalizeFiles(parsed.Files)
	if err != nil {
		c.logf("[repair] reply rejected: %v", err)
		return project.FileSet{}, false
	}

	if parsed.Summary != "" {
		c.logf("[repair] agent: %s", parsed.Summary)
	}
	return fixed, true
}

// normalizeFiles enforces the reply contract: a non-empty file array, a
// non-empty path per entry, and string content. Non-string content is
// serialized; double-encoded JSON content is collapsed for manifest files.
// Any entry that cannot produce a usable file rejects the whole reply.
func normalizeFiles(entries []responseFile) (project.FileSet, error) {
	if len(entries) == 0 {
		return project.FileSet{}, fmt.Errorf("empty file array")
	}

	files := make([]project.File, 0, len(entries))
	for i, entry := range entries {
		path := project.NormalizePath(entry.Path)
		if path == "" {
			return project.FileSet{}, fmt.Errorf("entry %d has no usable path (%q)", i, entry.Path)
		}

		content, err := decodeContent(path, entry.Content)
		if err != nil {
			return project.FileSet{}, fmt.Errorf("entry %d (%s): %w", i, path, err)
		}
		files = append(files, project.File{Path: path, Content: content})
	}
	return project.New(files...), nil
}

func decodeContent(path string, raw json.RawMessage) (string, error) {
	trimmed := string(bytes.TrimSpace(raw))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("missing content")
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if isManifestPath(path) {
			return collapseDoubleEncoded(str), nil
		}
		return str, nil
	}

	// Non-string content (object, array, number): serialize it rather than
	// rejecting the reply.
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("content is not valid JSON: %w", err)
	}
	serialized, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("content cannot be serialized: %w", err)
	}
	return string(serialized), nil
}

// collapseDoubleEncoded unwraps manifest content the agent accidentally
// JSON-encoded twice: a string value that itself re-parses into another
// string.
func collapseDoubleEncoded(content string) string {
	for i := 0; i < 3; i++ {
		var inner string
		if err := json.Unmarshal([]byte(content), &inner); err != nil {
			return content
		}
		content = inner
	}
	return content
}

func isManifestPath(path string) bool {
	switch path {
	case "package.json", "tsconfig.json", "package-lock.json":
		return true
	}
	return false
}
