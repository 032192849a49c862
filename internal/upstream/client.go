package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wardwatch/internal/config"
	"wardwatch/internal/model"
)

var (
	// ErrNoCredential short-circuits a request before it is made; callers
	// surface it as a "login required" state, never as a retryable failure.
	ErrNoCredential = errors.New("no upstream credential available")

	// ErrUnauthorized maps 401/403 responses: the credential exists but the
	// upstream no longer accepts it.
	ErrUnauthorized = errors.New("upstream rejected credential")
)

// HTTPError carries a non-2xx upstream status code
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// Client wraps the video-analysis backend's REST API. It owns no
// credential: the bearer token is passed per call because tokens are
// session-scoped and the gateway serves many sessions.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *zap.Logger
}

func NewClient(cfg config.UpstreamConfig, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    http,
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

// Login exchanges dashboard credentials for an upstream bearer token
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		Post("/api/v1/auth/login")
	if err != nil {
		return "", fmt.Errorf("upstream login: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("upstream login: %w", &HTTPError{Status: resp.StatusCode(), Body: "empty access_token"})
	}
	return out.AccessToken, nil
}

// FetchEvents retrieves one page of the authoritative event list,
// backend-ordered (reverse chronological)
func (c *Client) FetchEvents(ctx context.Context, token string, skip, limit int) ([]model.Event, error) {
	if token == "" {
		return nil, ErrNoCredential
	}
	var events []model.Event
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParam("skip", fmt.Sprint(skip)).
		SetQueryParam("limit", fmt.Sprint(limit)).
		SetResult(&events).
		Get("/api/v1/events/")
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return events, nil
}

// FetchCCTVs retrieves the device registry used for identity mapping and
// the manage page
func (c *Client) FetchCCTVs(ctx context.Context, token string, skip, limit int) ([]model.CCTV, error) {
	if token == "" {
		return nil, ErrNoCredential
	}
	var cctvs []model.CCTV
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParam("skip", fmt.Sprint(skip)).
		SetQueryParam("limit", fmt.Sprint(limit)).
		SetResult(&cctvs).
		Get("/api/v1/cctvs/")
	if err != nil {
		return nil, fmt.Errorf("fetch cctvs: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return cctvs, nil
}

// FetchBedMappings retrieves the (cctv, bed) pairing table
func (c *Client) FetchBedMappings(ctx context.Context, token string) ([]model.BedMapping, error) {
	if token == "" {
		return nil, ErrNoCredential
	}
	var mappings []model.BedMapping
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&mappings).
		Get("/api/v1/beds/")
	if err != nil {
		return nil, fmt.Errorf("fetch bed mappings: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return mappings, nil
}

// CreateCCTV registers a camera in the upstream registry
func (c *Client) CreateCCTV(ctx context.Context, token string, req model.CCTVCreateRequest) (*model.CCTV, error) {
	if token == "" {
		return nil, ErrNoCredential
	}
	var created model.CCTV
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(req).
		SetResult(&created).
		Post("/api/v1/cctvs")
	if err != nil {
		return nil, fmt.Errorf("create cctv: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteCCTV removes a camera from the registry
func (c *Client) DeleteCCTV(ctx context.Context, token, id string) error {
	if token == "" {
		return ErrNoCredential
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Delete("/api/v1/cctvs/" + url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("delete cctv: %w", err)
	}
	return checkStatus(resp)
}

// AssignBed attaches a patient name to a bed
func (c *Client) AssignBed(ctx context.Context, token, bedID, patientName string) error {
	if token == "" {
		return ErrNoCredential
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParam("patient_name", patientName).
		Post("/api/v1/beds/" + url.PathEscape(bedID) + "/assign")
	if err != nil {
		return fmt.Errorf("assign bed: %w", err)
	}
	return checkStatus(resp)
}

// AutoDetectBed asks the backend to re-detect a bed polygon from video
func (c *Client) AutoDetectBed(ctx context.Context, token, bedID string) error {
	if token == "" {
		return ErrNoCredential
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Post("/api/v1/beds/" + url.PathEscape(bedID) + "/auto")
	if err != nil {
		return fmt.Errorf("auto detect bed: %w", err)
	}
	return checkStatus(resp)
}

// EventImageURL builds the passthrough URL for an event's captured frame
func (c *Client) EventImageURL(eventID string) string {
	return c.baseURL + "/api/v1/events/" + url.PathEscape(eventID) + "/image"
}

// StreamURL builds the live video passthrough URL for a camera
func (c *Client) StreamURL(cctvID string) string {
	return c.baseURL + "/api/v1/stream/" + url.PathEscape(cctvID)
}

// EventStreamURL is the SSE push endpoint consumed by the stream client
func (c *Client) EventStreamURL(streamPath string) string {
	return c.baseURL + streamPath
}

func checkStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401 || code == 403:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, code)
	default:
		return &HTTPError{Status: code, Body: string(resp.Body())}
	}
}
