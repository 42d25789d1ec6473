package lrs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/utils"
)

// Client posts xAPI statements to a learning record store over HTTP.
// Server errors (5xx) and transport failures are retried with exponential
// backoff; client errors (4xx) are returned immediately since retrying the
// same payload cannot succeed.
type Client struct {
	endpoint      string
	authHeader    string
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
	log           *logger.Logger
}

// NewClient returns nil (no error) when LRS_ENDPOINT is unset, which
// disables the sync worker.
func NewClient(log *logger.Logger) (*Client, error) {
	endpoint := strings.TrimRight(utils.GetEnv("LRS_ENDPOINT", "", log), "/")
	if endpoint == "" {
		log.Info("LRS_ENDPOINT not set, statement sync disabled")
		return nil, nil
	}

	username := utils.GetEnv("LRS_USERNAME", "", log)
	password := utils.GetEnv("LRS_PASSWORD", "", log)
	token := utils.GetEnv("LRS_AUTH_TOKEN", "", log)

	var authHeader string
	switch {
	case token != "":
		authHeader = "Bearer " + token
	case username != "" && password != "":
		authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	default:
		return nil, fmt.Errorf("LRS auth required: set LRS_AUTH_TOKEN or LRS_USERNAME/LRS_PASSWORD")
	}

	timeoutMs := utils.GetEnvAsInt("LRS_TIMEOUT_MS", 10000, log)
	retryAttempts := utils.GetEnvAsInt("LRS_RETRY_ATTEMPTS", 3, log)
	retryDelayMs := utils.GetEnvAsInt("LRS_RETRY_DELAY_MS", 1000, log)

	return &Client{
		endpoint:      endpoint,
		authHeader:    authHeader,
		httpClient:    &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		retryAttempts: retryAttempts,
		retryDelay:    time.Duration(retryDelayMs) * time.Millisecond,
		log:           log.With("service", "LRSClient"),
	}, nil
}

// SendStatements posts a batch to /statements and returns the statement ids
// acknowledged by the store.
func (c *Client) SendStatements(ctx context.Context, statements []Statement) ([]string, error) {
	if len(statements) == 0 {
		return []string{}, nil
	}

	body, err := json.Marshal(statements)
	if err != nil {
		return nil, fmt.Errorf("marshal statements: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		ids, retryable, err := c.post(ctx, body)
		if err == nil {
			return ids, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.log.Warn("LRS statement post failed, will retry", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("lrs send failed after %d attempts: %w", c.retryAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) (ids []string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/statements", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("X-Experience-API-Version", "1.0.3")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out []string
		if err := json.Unmarshal(raw, &out); err != nil {
			// Some stores return 204 with no body; that still counts.
			return []string{}, false, nil
		}
		return out, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("lrs returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	default:
		return nil, false, fmt.Errorf("lrs rejected statements (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}

// TestConnection hits the /about endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/about", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("X-Experience-API-Version", "1.0.3")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lrs about returned %d", resp.StatusCode)
	}
	return nil
}
