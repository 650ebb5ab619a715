package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"github.com/ericogr/sfa3x-to-influx/pkg/lineprotocol"
	"github.com/ericogr/sfa3x-to-influx/pkg/output"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
)

const (
	writePath   = "/api/v2/write"
	precision   = "s"
	contentType = "text/plain; charset=utf-8"
	// only the start of an error body is kept for the log message
	maxErrorBody = 4096
)

// InfluxOutput writes each reading with a single POST to the InfluxDB v2
// write API. Failures are returned, never retried.
type InfluxOutput struct {
	client      *http.Client
	writeURL    string
	token       string
	measurement string
	tags        []lineprotocol.Tag
}

func NewInflux(cfg config.InfluxConfig, measurement string, tags []lineprotocol.Tag) (output.Output, error) {
	u, err := WriteURL(cfg)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	return &InfluxOutput{
		client:      &http.Client{Timeout: timeout},
		writeURL:    u,
		token:       cfg.Token,
		measurement: measurement,
		tags:        tags,
	}, nil
}

// WriteURL builds <url>/api/v2/write?bucket=..&org=..&precision=s.
func WriteURL(cfg config.InfluxConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("influx: parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("influx: url %q needs scheme and host", cfg.URL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + writePath
	q := u.Query()
	q.Set("org", cfg.Org)
	q.Set("bucket", cfg.Bucket)
	q.Set("precision", precision)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (o *InfluxOutput) Publish(r sensor.Reading) error {
	line := lineprotocol.Format(o.measurement, o.tags, r)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, o.writeURL, strings.NewReader(line))
	if err != nil {
		return fmt.Errorf("influx: build request: %w", err)
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Token "+o.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("influx: write: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &WriteError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
}

func (o *InfluxOutput) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// WriteError is a non-2xx answer from the write endpoint.
type WriteError struct {
	StatusCode int
	Message    string
}

func (e *WriteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("influx: write failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("influx: write failed with status %d: %s", e.StatusCode, e.Message)
}

// errorMessage extracts "message" from InfluxDB's JSON error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		if e.Code != "" {
			return e.Code + ": " + e.Message
		}
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
