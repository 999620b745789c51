package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

const serviceName = "storage"

// Config holds the object storage client settings.
type Config struct {
	// URL is the project base URL, the client talks to URL + "/storage/v1".
	URL    string
	APIKey string

	HTTPClient *http.Client
	// TokenSource returns the bearer token of the signed in user. The API
	// key is used when it returns "".
	TokenSource func() string
}

// Client implements session.ObjectStorage against a Supabase compatible
// storage API.
type Client struct {
	config     Config
	httpClient *http.Client
}

var _ session.ObjectStorage = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.URL, validation.Required),
		validation.Field(&cfg.APIKey, validation.Required),
	)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid storage client configuration")
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{config: cfg, httpClient: client}, nil
}

// Upload implements session.ObjectStorage.
func (c *Client) Upload(ctx context.Context, bucket, path string, body io.Reader, opts session.UploadOptions) error {
	req, err := c.newRequest(ctx, http.MethodPost, c.objectURL(bucket, path), body)
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: "upload", Err: err}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", strconv.FormatBool(opts.Upsert))
	if opts.CacheControl != "" {
		req.Header.Set("cache-control", "max-age="+opts.CacheControl)
	}

	return c.send(req, "upload")
}

// GetPublicURL implements session.ObjectStorage. It does not check that the
// object exists.
func (c *Client) GetPublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.config.URL, bucket, escapePath(path))
}

// Remove implements session.ObjectStorage.
func (c *Client) Remove(ctx context.Context, bucket string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: "remove", Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodDelete,
		fmt.Sprintf("%s/storage/v1/object/%s", c.config.URL, url.PathEscape(bucket)),
		bytes.NewReader(payload),
	)
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: "remove", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.send(req, "remove")
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	token := c.config.APIKey
	if c.config.TokenSource != nil {
		if t := c.config.TokenSource(); t != "" {
			token = t
		}
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) send(req *http.Request, operation string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &session.TransportError{Service: serviceName, Operation: operation, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return parseError(operation, resp.StatusCode, raw)
	}
	return nil
}

type errorResponse struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func parseError(operation string, status int, raw []byte) *session.RemoteError {
	remote := &session.RemoteError{
		Service:   serviceName,
		Operation: operation,
		Status:    status,
		Raw:       raw,
	}

	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		remote.Message = strings.TrimSpace(string(raw))
		return remote
	}
	remote.Code = body.Error
	remote.Message = body.Message
	if remote.Message == "" {
		remote.Message = body.Error
	}
	return remote
}

func (c *Client) objectURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.config.URL, url.PathEscape(bucket), escapePath(path))
}

func escapePath(path string) string {
	parts := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
