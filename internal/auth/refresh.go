package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	RefreshPath    = "/auth/refresh-token"
	DeviceIDHeader = "X-Device-Id"
	userAgent      = "wallet-session/1.0"
)

// refreshResponse is the body returned by the refresh endpoint. The backend
// reports expiry either as an absolute epoch-millisecond value or as a
// lifetime in seconds; neither is guaranteed.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// HTTPRefresher calls the backend refresh endpoint.
type HTTPRefresher struct {
	httpClient *resty.Client
	deviceID   string
	now        func() time.Time
}

// HTTPRefresherOpts configures an HTTPRefresher.
type HTTPRefresherOpts struct {
	BaseURL  string
	DeviceID string
	Timeout  time.Duration
}

// NewHTTPRefresher creates a refresher for the API at opts.BaseURL.
func NewHTTPRefresher(opts HTTPRefresherOpts) *HTTPRefresher {
	client := resty.New().
		SetDebug(false).
		SetBaseURL(opts.BaseURL).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
			"User-Agent":   userAgent,
		})
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	return &HTTPRefresher{
		httpClient: client,
		deviceID:   opts.DeviceID,
		now:        time.Now,
	}
}

// Refresh exchanges refreshToken for a new access token.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	result := &refreshResponse{}
	req := r.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh_token": refreshToken}).
		SetResult(result)
	if r.deviceID != "" {
		req.SetHeader(DeviceIDHeader, r.deviceID)
	}

	if _, err := handleError(req.Post(RefreshPath)); err != nil {
		return nil, err
	}

	if result.AccessToken == "" {
		return nil, fmt.Errorf("refresh response has no access token")
	}

	out := &RefreshResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
	switch {
	case result.ExpiresAt > 0:
		out.ExpiresAt = time.UnixMilli(result.ExpiresAt)
	case result.ExpiresIn > 0:
		out.ExpiresAt = r.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}

	return out, nil
}

// handleError turns failing responses (>399 status code) into errors. Without
// this, failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, fmt.Errorf("refresh request failed: %w", err)
	}
	if res.IsError() {
		return res, &StatusError{
			Method:     res.Request.Method,
			URL:        res.Request.URL,
			StatusCode: res.StatusCode(),
			Body:       res.String(),
		}
	}
	return res, nil
}

var _ Refresher = (*HTTPRefresher)(nil)
