package hosting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// PrepareKind names the populated variant of a prepare response
type PrepareKind int

const (
	PrepareReply PrepareKind = iota + 1
	PrepareExisting
	PrepareSuggestion
)

func (k PrepareKind) String() string {
	switch k {
	case PrepareReply:
		return "reply"
	case PrepareExisting:
		return "existing"
	case PrepareSuggestion:
		return "suggestion"
	default:
		return "unknown"
	}
}

// PrepareKindOf validates a prepare response and reports which variant it carries.
// A reply wins over existing deployments, which win over a suggestion.
func PrepareKindOf(resp *models.PrepareResponse) (PrepareKind, error) {
	switch {
	case resp == nil:
		return 0, &malformedResponseError{reason: "empty prepare response"}
	case resp.Reply != nil:
		return PrepareReply, nil
	case len(resp.Existing) > 0:
		return PrepareExisting, nil
	case resp.Suggestion != nil:
		return PrepareSuggestion, nil
	default:
		return 0, &malformedResponseError{reason: "at least one of reply, existing or suggestion must be present"}
	}
}

// Prompter asks the user questions during interactive deploys
type Prompter interface {
	Confirm(question string, defaultYes bool) (bool, error)
	Ask(question, defaultValue string) (string, error)
}

// KeyRequest describes how the deployment key should be chosen
type KeyRequest struct {
	AppName          string
	Key              string
	FrontendHostname string
	Interactive      bool
}

// PrepareDeploy asks the control plane for a key and hostnames
func (c *Client) PrepareDeploy(ctx context.Context, req models.PrepareRequest) (*models.PrepareResponse, error) {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return nil, err
	}

	var resp models.PrepareResponse
	if err := c.do(ctx, "prepare deployment", http.MethodPost, "/deployments/prepare", token, req, &resp); err != nil {
		return nil, err
	}

	kind, err := PrepareKindOf(&resp)
	if err != nil {
		return nil, internalError("prepare deployment", err)
	}

	c.logger.Debug().Str("app_name", req.AppName).Stringer("kind", kind).Msg("Deployment prepared")
	return &resp, nil
}

// ResolveKey settles on the key and URLs to deploy to
func (c *Client) ResolveKey(ctx context.Context, req KeyRequest, prompter Prompter, out io.Writer) (*models.DeploymentTarget, error) {
	if !req.Interactive {
		return c.resolveNonInteractive(ctx, req)
	}

	key := ""
	if req.Key != "" {
		normalized, err := NormalizeKey(req.Key)
		if err != nil {
			return nil, err
		}
		key = normalized
	}

	resp, err := c.PrepareDeploy(ctx, models.PrepareRequest{
		AppName:          req.AppName,
		Key:              key,
		FrontendHostname: req.FrontendHostname,
	})
	if err != nil {
		return nil, err
	}

	kind, _ := PrepareKindOf(resp)
	switch kind {
	case PrepareReply:
		return resp.Reply, nil
	case PrepareExisting:
		target := resp.Existing[0]
		fmt.Fprintf(out, "Overwriting existing deployment %s (%s)\n", target.Key, target.FrontendURL)
		return &target, nil
	default:
		return c.negotiateKey(ctx, req, resp.Suggestion, prompter, out)
	}
}

func (c *Client) resolveNonInteractive(ctx context.Context, req KeyRequest) (*models.DeploymentTarget, error) {
	if req.Key == "" {
		return nil, ErrKeyRequired
	}
	key, err := NormalizeKey(req.Key)
	if err != nil {
		return nil, err
	}

	resp, err := c.PrepareDeploy(ctx, models.PrepareRequest{
		AppName:          req.AppName,
		Key:              key,
		FrontendHostname: req.FrontendHostname,
	})
	if err != nil {
		return nil, err
	}

	if resp.Reply == nil || resp.Reply.Key != key {
		return nil, fmt.Errorf("%q: %w", key, ErrKeyNotConfirmed)
	}
	return resp.Reply, nil
}

// negotiateKey offers the suggestion, then custom keys, until the server confirms one
func (c *Client) negotiateKey(ctx context.Context, req KeyRequest, suggestion *models.DeploymentTarget, prompter Prompter, out io.Writer) (*models.DeploymentTarget, error) {
	for attempt := 0; attempt < c.config.PromptMaxAttempts; attempt++ {
		candidate, err := chooseKey(prompter, suggestion)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		if candidate == "" {
			return nil, ErrKeyNotConfirmed
		}

		key, err := NormalizeKey(candidate)
		if err != nil {
			fmt.Fprintln(out, ErrInvalidKey.Error())
			continue
		}

		resp, err := c.PrepareDeploy(ctx, models.PrepareRequest{
			AppName:          req.AppName,
			Key:              key,
			FrontendHostname: req.FrontendHostname,
		})
		if err != nil {
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				fmt.Fprintln(out, rejected.Detail)
				continue
			}
			return nil, err
		}

		if resp.Reply != nil && resp.Reply.Key == key {
			return resp.Reply, nil
		}

		fmt.Fprintf(out, "Key %q is not available.\n", key)
		if resp.Suggestion != nil {
			suggestion = resp.Suggestion
		}
	}

	return nil, ErrKeyNotConfirmed
}

func chooseKey(prompter Prompter, suggestion *models.DeploymentTarget) (string, error) {
	if suggestion != nil {
		question := fmt.Sprintf("Deploy with key %q to %s?", suggestion.Key, suggestion.FrontendURL)
		accept, err := prompter.Confirm(question, true)
		if err != nil {
			return "", err
		}
		if accept {
			return suggestion.Key, nil
		}
	}
	return prompter.Ask("Enter a custom key (letters, digits and hyphens, empty to cancel)", "")
}
