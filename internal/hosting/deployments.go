package hosting

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// ListDeployments returns every deployment owned by the user
func (c *Client) ListDeployments(ctx context.Context) ([]models.Deployment, error) {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return nil, err
	}

	var deployments []models.Deployment
	if err := c.do(ctx, "list deployments", http.MethodGet, "/deployments", token, nil, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// GetDeployment finds one deployment by key
func (c *Client) GetDeployment(ctx context.Context, key string) (*models.Deployment, error) {
	deployments, err := c.ListDeployments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range deployments {
		if deployments[i].Key == key {
			return &deployments[i], nil
		}
	}
	return nil, &RejectedError{StatusCode: http.StatusNotFound, Detail: fmt.Sprintf("deployment %q not found", key)}
}

// DeleteDeployment removes a deployment
func (c *Client) DeleteDeployment(ctx context.Context, key string) error {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return err
	}

	return c.do(ctx, "delete deployment", http.MethodDelete, "/deployments/"+url.PathEscape(key), token, nil, nil)
}

// GetDeploymentStatus reports reachability of both components
func (c *Client) GetDeploymentStatus(ctx context.Context, key string) (*models.DeploymentStatus, error) {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return nil, err
	}

	var status models.DeploymentStatus
	path := "/deployments/" + url.PathEscape(key) + "/status"
	if err := c.do(ctx, "get deployment status", http.MethodGet, path, token, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListRegions returns the regions deployments can be placed in
func (c *Client) ListRegions(ctx context.Context) ([]models.Region, error) {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return nil, err
	}

	var regions []models.Region
	if err := c.do(ctx, "list regions", http.MethodGet, "/deployments/regions", token, nil, &regions); err != nil {
		return nil, err
	}
	return regions, nil
}
