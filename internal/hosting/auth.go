package hosting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/alvesdmateus/apphost/internal/credentials"
	"github.com/alvesdmateus/apphost/pkg/models"
)

// errTokenPending means the browser login has not been approved yet
var errTokenPending = errors.New("token not issued yet")

// AuthState is a step of the browser login
type AuthState int

const (
	AuthNotAuthenticated AuthState = iota
	AuthAwaitingBrowser
	AuthTokenFound
	AuthTimedOut
)

func (s AuthState) String() string {
	switch s {
	case AuthNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case AuthAwaitingBrowser:
		return "AWAITING_BROWSER_COMPLETION"
	case AuthTokenFound:
		return "TOKEN_FOUND"
	case AuthTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Authenticated returns a token the control plane accepts, or ErrNotAuthenticated.
// A token the server refuses is removed from the store.
func (c *Client) Authenticated(ctx context.Context) (string, error) {
	creds := c.store.Load()
	if creds.Empty() {
		return "", ErrNotAuthenticated
	}

	c.mu.Lock()
	validated := c.validated
	c.mu.Unlock()
	if validated != "" && validated == creds.AccessToken {
		return validated, nil
	}

	if credentials.TokenExpired(creds.AccessToken, c.now()) {
		c.logger.Debug().Msg("Cached token has expired")
		c.store.Delete(false)
		return "", ErrNotAuthenticated
	}

	if err := c.ValidateToken(ctx, creds.AccessToken); err != nil {
		if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNotAuthenticated) {
			c.store.Delete(false)
			return "", ErrNotAuthenticated
		}
		return "", err
	}

	return creds.AccessToken, nil
}

// ValidateToken checks a token against the control plane. A 403 maps to
// ErrAccessDenied; transport and server errors are returned as InternalError.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	var user models.UserInfo
	err := c.do(ctx, "validate token", http.MethodPost, "/authenticate/me", token, nil, &user)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.StatusCode == http.StatusForbidden {
			return ErrAccessDenied
		}
		return err
	}

	c.mu.Lock()
	c.validated = token
	c.mu.Unlock()

	c.logger.Debug().Str("user_id", user.UserID).Msg("Token validated")
	return nil
}

// Login returns a valid token, running the browser flow when none is cached.
// Progress for the user is written to out.
func (c *Client) Login(ctx context.Context, out io.Writer) (string, error) {
	token, err := c.Authenticated(ctx)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNotAuthenticated) {
		c.logger.Debug().Err(err).Msg("Could not validate cached token, starting browser login")
	}

	return c.browserLogin(ctx, out)
}

func (c *Client) browserLogin(ctx context.Context, out io.Writer) (string, error) {
	state := AuthNotAuthenticated
	requestID := uuid.NewString()
	authURL := c.authURL(requestID)

	if err := c.OpenBrowser(authURL); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to open browser")
		fmt.Fprintf(out, "Unable to open the browser. Visit this URL to log in:\n  %s\n", authURL)
	} else {
		fmt.Fprintf(out, "Complete the login in your browser. If it did not open, visit:\n  %s\n", authURL)
	}
	state = c.transition(state, AuthAwaitingBrowser)

	pace := newPacer(c.config.AuthInterval)
	for attempt := 1; attempt <= c.config.AuthRetries; attempt++ {
		if err := pace.Wait(ctx); err != nil {
			return "", err
		}

		resp, err := c.fetchToken(ctx, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !errors.Is(err, errTokenPending) && !IsRetryable(err) {
				return "", err
			}
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Token not available yet")
			continue
		}

		err = c.ValidateToken(ctx, resp.AccessToken)
		switch {
		case err == nil:
			c.store.Save(resp.AccessToken, resp.Code)
			c.transition(state, AuthTokenFound)
			return resp.AccessToken, nil
		case errors.Is(err, ErrAccessDenied):
			return "", ErrAccessDenied
		case ctx.Err() != nil:
			return "", ctx.Err()
		case !IsRetryable(err):
			return "", err
		default:
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Token validation failed, retrying")
		}
	}

	c.transition(state, AuthTimedOut)
	return "", ErrAuthTimeout
}

// Logout forgets the cached token and invitation code
func (c *Client) Logout() {
	c.store.Delete(true)
	c.mu.Lock()
	c.validated = ""
	c.mu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context, requestID string) (*models.TokenResponse, error) {
	var resp models.TokenResponse
	if err := c.do(ctx, "fetch token", http.MethodGet, "/authenticate/"+url.PathEscape(requestID), "", nil, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errTokenPending
	}
	return &resp, nil
}

func (c *Client) authURL(requestID string) string {
	u, err := url.Parse(c.config.AuthURL)
	if err != nil {
		return c.config.AuthURL + "?request-id=" + url.QueryEscape(requestID)
	}
	q := u.Query()
	q.Set("request-id", requestID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) transition(from, to AuthState) AuthState {
	c.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("Login state changed")
	return to
}
