package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"fincon/internal/core"
)

// SignUpParams is the sign-up payload.
type SignUpParams struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Salary   decimal.Decimal `json:"salary"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token (POST /sessions).
func (c *Client) Login(ctx context.Context, creds core.Credentials) (string, error) {
	var out tokenResponse
	err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       "/sessions",
		in:         creds,
		out:        &out,
		credential: true,
	})
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &RequestError{Kind: KindUnexpected, Method: http.MethodPost, Path: "/sessions", Message: msgTryAgain, Err: ErrUnexpected}
	}
	return out.Token, nil
}

// SignUp creates an account and returns its bearer token (POST /users).
func (c *Client) SignUp(ctx context.Context, p SignUpParams) (string, error) {
	var out tokenResponse
	err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       "/users",
		in:         p,
		out:        &out,
		credential: true,
	})
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &RequestError{Kind: KindUnexpected, Method: http.MethodPost, Path: "/users", Message: msgTryAgain, Err: ErrUnexpected}
	}
	return out.Token, nil
}
