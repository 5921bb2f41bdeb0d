package otp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	RequestIDHeader = "X-Request-Id"
	userAgent       = "wallet-session/1.0"
)

// TokenSource supplies the bearer token for authenticated OTP routes.
// *auth.Guard satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Route holds the backend endpoints for one OTP type.
type Route struct {
	VerifyPath string
	ResendPath string

	// Public routes belong to flows that run before login and are called
	// without a bearer token.
	Public bool
}

// DefaultRoutes returns the backend endpoints for every OTP type.
func DefaultRoutes() map[Type]Route {
	return map[Type]Route{
		TypeGeneral:             {VerifyPath: "/otp/verify", ResendPath: "/otp/resend"},
		TypeRegister:            {VerifyPath: "/auth/register/verify-otp", ResendPath: "/auth/register/resend-otp", Public: true},
		TypeLoginNewDevice:      {VerifyPath: "/auth/device/verify-otp", ResendPath: "/auth/device/resend-otp", Public: true},
		TypeForgotPassword:      {VerifyPath: "/auth/password/verify-otp", ResendPath: "/auth/password/resend-otp", Public: true},
		TypeWithdraw:            {VerifyPath: "/wallet/withdraw/verify-otp", ResendPath: "/wallet/withdraw/resend-otp"},
		TypeBankWithdraw:        {VerifyPath: "/bank/withdraw/verify-otp", ResendPath: "/bank/withdraw/resend-otp"},
		TypeTrading:             {VerifyPath: "/trading/orders/verify-otp", ResendPath: "/trading/orders/resend-otp"},
		TypeTermDepositPurchase: {VerifyPath: "/term-deposits/verify-otp", ResendPath: "/term-deposits/resend-otp"},
		TypeEContractSigning:    {VerifyPath: "/econtracts/verify-otp", ResendPath: "/econtracts/resend-otp"},
		TypeLoanApplication:     {VerifyPath: "/loans/applications/verify-otp", ResendPath: "/loans/applications/resend-otp"},
		TypeLoanPayment:         {VerifyPath: "/loans/payments/verify-otp", ResendPath: "/loans/payments/resend-otp"},
		TypeBankTransfer:        {VerifyPath: "/bank/transfer/verify-otp", ResendPath: "/bank/transfer/resend-otp"},
	}
}

type HTTPServiceOpts struct {
	BaseURL string
	Tokens  TokenSource
	Routes  map[Type]Route // Defaults to DefaultRoutes()
	Timeout time.Duration
}

// HTTPService verifies and resends codes against the wallet backend.
type HTTPService struct {
	httpClient *resty.Client
	tokens     TokenSource
	routes     map[Type]Route
}

func NewHTTPService(opts HTTPServiceOpts) *HTTPService {
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

	routes := opts.Routes
	if routes == nil {
		routes = DefaultRoutes()
	}

	return &HTTPService{
		httpClient: client,
		tokens:     opts.Tokens,
		routes:     routes,
	}
}

type otpRequestBody struct {
	Type        Type        `json:"type"`
	PhoneNumber string      `json:"phone_number"`
	OTP         string      `json:"otp,omitempty"`
	Context     ContextData `json:"context,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e *errorBody) text(fallback string) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	default:
		return fallback
	}
}

func (s *HTTPService) Verify(ctx context.Context, t Type, req VerifyRequest, data ContextData) (*VerifyResponse, error) {
	route, ok := s.routes[t]
	if !ok || route.VerifyPath == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, t)
	}

	result := &VerifyResponse{}
	errResult := &errorBody{}
	r, err := s.req(ctx, route, result, errResult)
	if err != nil {
		return nil, err
	}

	res, err := r.
		SetBody(otpRequestBody{Type: t, PhoneNumber: req.PhoneNumber, OTP: req.OTP, Context: data}).
		Post(route.VerifyPath)
	if err != nil {
		return nil, &TransportError{Op: "verify", Type: t, Err: err}
	}

	switch code := res.StatusCode(); {
	case !res.IsError():
		return result, nil
	case code == http.StatusBadRequest || code == http.StatusGone || code == http.StatusUnprocessableEntity:
		log.Debug().Stringer("otpType", t).Int("status", code).Msg("otp code rejected")
		return &VerifyResponse{Success: false, Message: errResult.text("Invalid or expired code")}, nil
	case code == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrTooManyAttempts, errResult.text(t.String()))
	default:
		return nil, &TransportError{Op: "verify", Type: t, StatusCode: code, Err: errors.New(res.String())}
	}
}

func (s *HTTPService) Resend(ctx context.Context, t Type, req ResendRequest, data ContextData) (*ResendResponse, error) {
	route, ok := s.routes[t]
	if !ok || route.ResendPath == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, t)
	}

	result := &ResendResponse{}
	errResult := &errorBody{}
	r, err := s.req(ctx, route, result, errResult)
	if err != nil {
		return nil, err
	}

	res, err := r.
		SetBody(otpRequestBody{Type: t, PhoneNumber: req.PhoneNumber, Context: data}).
		Post(route.ResendPath)
	if err != nil {
		return nil, &TransportError{Op: "resend", Type: t, Err: err}
	}

	switch code := res.StatusCode(); {
	case !res.IsError():
		if result.PhoneNumber == "" {
			result.PhoneNumber = req.PhoneNumber
		}
		return result, nil
	case code == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrResendThrottled, errResult.text(t.String()))
	default:
		return nil, &TransportError{Op: "resend", Type: t, StatusCode: code, Err: errors.New(res.String())}
	}
}

func (s *HTTPService) req(ctx context.Context, route Route, result, errResult any) (*resty.Request, error) {
	request := s.httpClient.
		NewRequest().
		SetContext(ctx).
		SetHeader(RequestIDHeader, uuid.NewString()).
		SetResult(result).
		SetError(errResult)

	if !route.Public && s.tokens != nil {
		token, err := s.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		request.SetAuthToken(token)
	}

	return request, nil
}

var _ Service = (*HTTPService)(nil)
