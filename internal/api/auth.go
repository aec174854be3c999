package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, model.User, error) {
	body := map[string]string{"email": email, "password": password}
	var out loginDTO
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &out); err != nil {
		return "", model.User{}, err
	}
	token := strings.TrimSpace(out.AccessToken)
	if token == "" {
		return "", model.User{}, apperr.Transport("login response carried no token", nil)
	}
	return token, normalizeUser(out.User), nil
}

// Me returns the identity behind the current credential.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var out userDTO
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &out); err != nil {
		return model.User{}, err
	}
	return normalizeUser(&out), nil
}
