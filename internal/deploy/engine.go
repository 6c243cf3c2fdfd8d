package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/apphost/internal/hosting"
	"github.com/alvesdmateus/apphost/internal/logging"
	"github.com/alvesdmateus/apphost/internal/packager"
)

// ErrDeploymentFailed is returned when the control plane reported a failed milestone
var ErrDeploymentFailed = errors.New("deployment failed, check the build logs with `apphost deployments build-logs`")

// Request describes one deploy invocation
type Request struct {
	AppName          string
	Key              string
	AppPrefix        string
	Regions          []string
	Envs             map[string]string
	CPUs             int
	MemoryMB         int
	VMType           string
	FrontendHostname string
	Interactive      bool

	// ProjectDir is where requirements.txt is read from
	ProjectDir string
}

// Result summarises a finished deployment
type Result struct {
	Key               string
	FrontendURL       string
	BackendURL        string
	Milestones        hosting.MilestoneResult
	BackendReachable  bool
	FrontendReachable bool
	BackendLogs       string
}

// Engine sequences the stages of a deployment
type Engine struct {
	client   *hosting.Client
	exporter packager.Exporter
	prompter hosting.Prompter
	out      io.Writer
	logger   zerolog.Logger
}

// NewEngine creates a deploy engine that writes progress to out
func NewEngine(client *hosting.Client, exporter packager.Exporter, prompter hosting.Prompter, out io.Writer) *Engine {
	return &Engine{
		client:   client,
		exporter: exporter,
		prompter: prompter,
		out:      out,
		logger:   logging.Component("deploy"),
	}
}

// Deploy runs the full pipeline: authenticate, resolve the key, export,
// upload backend then frontend, watch milestones and probe both components.
func (e *Engine) Deploy(ctx context.Context, req Request) (*Result, error) {
	if err := hosting.ValidateResources(req.CPUs, req.MemoryMB); err != nil {
		return nil, err
	}

	if _, err := e.client.Authenticated(ctx); err != nil {
		return nil, err
	}

	target, err := e.client.ResolveKey(ctx, hosting.KeyRequest{
		AppName:          req.AppName,
		Key:              req.Key,
		FrontendHostname: req.FrontendHostname,
		Interactive:      req.Interactive,
	}, e.prompter, e.out)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("key", target.Key).
		Str("app_name", req.AppName).
		Msg("Starting deployment")

	fmt.Fprintf(e.out, "Packaging %s...\n", req.AppName)
	artifacts, err := packager.Package(ctx, e.exporter, target.BackendURL, target.FrontendURL)
	if err != nil {
		return nil, err
	}
	defer artifacts.Cleanup()

	reqs := packager.ReadRequirements(req.ProjectDir)
	e.logger.Debug().
		Str("key", target.Key).
		Int("packages", len(reqs.Packages)).
		Msg("Read backend requirements")

	upload := hosting.UploadRequest{
		Key:              target.Key,
		AppName:          req.AppName,
		AppPrefix:        req.AppPrefix,
		Regions:          req.Regions,
		CPUs:             req.CPUs,
		MemoryMB:         req.MemoryMB,
		VMType:           req.VMType,
		Envs:             req.Envs,
		FrontendHostname: req.FrontendHostname,
		Requirements:     reqs.Raw,
	}

	fmt.Fprintln(e.out, "Uploading backend...")
	backend, err := e.client.UploadBackend(ctx, upload, artifacts.BackendZip)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(e.out, "Uploading frontend...")
	frontend, err := e.client.UploadFrontend(ctx, upload, artifacts.FrontendZip, backend.EventID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Key:         target.Key,
		FrontendURL: frontend.URL,
		BackendURL:  backend.URL,
	}

	fmt.Fprintln(e.out, "Waiting for the deployment to finish...")
	result.Milestones, err = e.client.WatchMilestones(ctx, target.Key, []int64{backend.EventID, frontend.EventID}, time.Time{}, e.out)
	if err != nil {
		return nil, err
	}

	switch result.Milestones {
	case hosting.MilestoneFailure:
		e.logger.Warn().Str("key", target.Key).Msg("Deployment reported a failure")
		return result, ErrDeploymentFailed
	case hosting.MilestoneInconclusive:
		e.logger.Warn().Str("key", target.Key).Msg("Milestones did not arrive in time")
		fmt.Fprintln(e.out, "Deployment may still be in progress. Check its status with `apphost deployments status`.")
	}

	if err := e.probe(ctx, result, backend.SidecarURL); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("key", target.Key).
		Bool("backend_reachable", result.BackendReachable).
		Bool("frontend_reachable", result.FrontendReachable).
		Msg("Deployment finished")

	return result, nil
}

// probe checks the backend, then the frontend. Neither timing out is fatal.
func (e *Engine) probe(ctx context.Context, result *Result, sidecarURL string) error {
	fmt.Fprintln(e.out, "Waiting for the backend to come up...")
	backend, err := e.client.ProbeBackend(ctx, result.Key, result.BackendURL, sidecarURL)
	if err != nil {
		return err
	}
	result.BackendReachable = backend.Reachable
	result.BackendLogs = backend.Logs

	switch {
	case backend.Logs != "":
		fmt.Fprintf(e.out, "The backend failed to start:\n%s\n", backend.Logs)
	case !backend.Reachable:
		fmt.Fprintln(e.out, "The backend is taking unusually long to respond.")
	}

	fmt.Fprintln(e.out, "Waiting for the frontend to come up...")
	frontend, err := e.client.ProbeFrontend(ctx, result.FrontendURL)
	if err != nil {
		return err
	}
	result.FrontendReachable = frontend.Reachable
	if !frontend.Reachable {
		fmt.Fprintln(e.out, "The frontend is taking unusually long to respond.")
	}

	return nil
}
