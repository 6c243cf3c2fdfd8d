package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alvesdmateus/apphost/internal/credentials"
	"github.com/alvesdmateus/apphost/internal/hosting"
	"github.com/alvesdmateus/apphost/internal/logging"
	"github.com/alvesdmateus/apphost/pkg/config"
)

// Version is overridden at build time with -ldflags
var Version = "dev"

// openBrowser launches the login page; tests replace it
var openBrowser = browser.OpenURL

// app is the state shared by every subcommand once the root has set it up
type app struct {
	configFile string
	logLevel   string
	apiURL     string
	format     string

	cfg    *config.Config
	client *hosting.Client
	output outputFormat
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "apphost",
		Short: "apphost - deploy full stack apps to the hosting platform",
		Long: `apphost packages an application into a backend and a frontend artifact,
uploads both to the hosting control plane and follows the deployment until
the app answers on its public URL.

Core Flow:
  login -> deploy -> deployments status/logs`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./config.yaml or ~/.apphost/config.yaml)")
	flags.StringVar(&a.logLevel, "loglevel", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.apiURL, "api-url", "", "control plane base URL")
	flags.StringVar(&a.format, "format", string(formatTable), "output format for listings: table, json, yaml")

	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newDeployCmd(a))
	cmd.AddCommand(newDeploymentsCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and builds the control plane client
func (a *app) setup(cmd *cobra.Command, args []string) error {
	flags := cmd.Root().PersistentFlags()
	if err := viper.BindPFlag("api_url", flags.Lookup("api-url")); err != nil {
		return fmt.Errorf("bind api-url flag: %w", err)
	}
	if err := viper.BindPFlag("log_level", flags.Lookup("loglevel")); err != nil {
		return fmt.Errorf("bind loglevel flag: %w", err)
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, true)

	output, err := parseOutputFormat(a.format)
	if err != nil {
		return err
	}

	client, err := hosting.NewClient(hosting.NewConfig(cfg, Version), newCredentialStore(cfg))
	if err != nil {
		return err
	}
	client.OpenBrowser = openBrowser

	a.cfg = cfg
	a.client = client
	a.output = output
	return nil
}

// newCredentialStore picks the token cache named by credentials.backend
func newCredentialStore(cfg *config.Config) credentials.Store {
	switch cfg.Credentials.Backend {
	case "keyring":
		return credentials.NewKeyringStore(cfg.APIURL)
	case "memory":
		return credentials.NewMemoryStore(credentials.Credentials{AccessToken: cfg.Credentials.Token})
	default:
		return credentials.NewFileStore(cfg.CredentialsPath())
	}
}

// Execute runs the root command. It is the only place that exits the process.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, newRootCmd(), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes cmd and prints any error as a single user facing line
func run(ctx context.Context, cmd *cobra.Command, args []string, stdout, stderr io.Writer) error {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", errorMessage(err))
	}
	return err
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return err.Error()
	}
}
