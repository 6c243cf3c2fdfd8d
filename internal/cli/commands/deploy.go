package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alvesdmateus/apphost/internal/cli/prompt"
	"github.com/alvesdmateus/apphost/internal/deploy"
	"github.com/alvesdmateus/apphost/internal/hosting"
	"github.com/alvesdmateus/apphost/internal/packager"
	"github.com/alvesdmateus/apphost/pkg/config"
)

type deployOptions struct {
	key              string
	regions          []string
	envs             []string
	envFile          string
	cpus             int
	memoryMB         int
	vmType           string
	frontendHostname string
	appPrefix        string
	projectDir       string
	noInteractive    bool
}

func newDeployCmd(a *app) *cobra.Command {
	opts := &deployOptions{}

	cmd := &cobra.Command{
		Use:   "deploy [app-name]",
		Short: "Deploy the app in the project directory",
		Long: `Export the backend and frontend of the app, upload both and wait until the
deployment reports success and the app answers. The app name defaults to the
project directory name.`,
		Example: `  apphost deploy
  apphost deploy shop --key shop-staging --regions us-east,eu-central
  apphost deploy --no-interactive --key shop --envs DEBUG=1 --envfile .env`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDeploy(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.key, "key", "", "deployment key, becomes part of the app URL")
	flags.StringSliceVar(&opts.regions, "regions", nil, "comma separated regions to deploy to")
	flags.StringArrayVar(&opts.envs, "envs", nil, "environment variable KEY=VALUE, repeatable")
	flags.StringVar(&opts.envFile, "envfile", "", "dotenv file with environment variables")
	flags.IntVar(&opts.cpus, "cpus", 0, "number of CPUs for the backend")
	flags.IntVar(&opts.memoryMB, "memory-mb", 0, "memory for the backend in MB")
	flags.StringVar(&opts.vmType, "vm-type", "", "machine type for the backend")
	flags.StringVar(&opts.frontendHostname, "frontend-hostname", "", "custom hostname for the frontend")
	flags.StringVar(&opts.appPrefix, "app-prefix", "", "path prefix the app is served under")
	flags.StringVar(&opts.projectDir, "project-dir", ".", "directory of the app to deploy")
	flags.BoolVar(&opts.noInteractive, "no-interactive", false, "never prompt; --key becomes required")

	return cmd
}

func (a *app) runDeploy(cmd *cobra.Command, opts *deployOptions, args []string) error {
	projectDir, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	appName := filepath.Base(projectDir)
	if len(args) == 1 {
		appName = args[0]
	}

	fileEnvs := map[string]string{}
	if opts.envFile != "" {
		if fileEnvs, err = hosting.LoadEnvFile(opts.envFile); err != nil {
			return err
		}
	}
	flagEnvs, err := hosting.ParseEnvs(opts.envs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	engine := deploy.NewEngine(
		a.client,
		newExporter(a.cfg.Export, projectDir),
		prompt.New(cmd.InOrStdin(), out),
		out,
	)

	result, err := engine.Deploy(cmd.Context(), deploy.Request{
		AppName:          appName,
		Key:              opts.key,
		AppPrefix:        opts.appPrefix,
		Regions:          hosting.ParseRegions(opts.regions),
		Envs:             hosting.MergeEnvs(fileEnvs, flagEnvs),
		CPUs:             opts.cpus,
		MemoryMB:         opts.memoryMB,
		VMType:           opts.vmType,
		FrontendHostname: opts.frontendHostname,
		Interactive:      !opts.noInteractive,
		ProjectDir:       projectDir,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nDeployment %s\n", result.Key)
	fmt.Fprintf(out, "  Frontend: %s\n", result.FrontendURL)
	fmt.Fprintf(out, "  Backend:  %s\n", result.BackendURL)
	return nil
}

// newExporter runs the configured export command, or zips prebuilt
// backend/ and frontend/ directories of the project.
func newExporter(cfg config.ExportConfig, projectDir string) packager.Exporter {
	if len(cfg.Command) > 0 {
		return &packager.CommandExporter{Command: cfg.Command, WorkDir: projectDir}
	}

	exporter := &packager.DirExporter{
		BackendDir:  filepath.Join(projectDir, "backend"),
		FrontendDir: filepath.Join(projectDir, "frontend"),
	}
	if cfg.BackendDir != "" {
		exporter.BackendDir = resolvePath(projectDir, cfg.BackendDir)
	}
	if cfg.FrontendDir != "" {
		exporter.FrontendDir = resolvePath(projectDir, cfg.FrontendDir)
	}
	return exporter
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
