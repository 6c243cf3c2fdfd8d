package packager

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Artifact file names written into the export directory
const (
	BackendZip  = "backend.zip"
	FrontendZip = "frontend.zip"
)

// ExportOptions tells an exporter what to produce and where
type ExportOptions struct {
	Dir             string
	APIURL          string
	DeployURL       string
	IncludeFrontend bool
	IncludeBackend  bool
	Zip             bool
}

// Exporter produces deployment artifacts. It is owned by the application
// framework; this package only sequences the calls.
type Exporter interface {
	Export(ctx context.Context, opts ExportOptions) error
}

// ExporterFunc adapts a function to the Exporter interface
type ExporterFunc func(ctx context.Context, opts ExportOptions) error

// Export calls f
func (f ExporterFunc) Export(ctx context.Context, opts ExportOptions) error {
	return f(ctx, opts)
}

// CommandExporter runs an external export command. The options are passed as
// APPHOST_EXPORT_* environment variables and appended as flags.
type CommandExporter struct {
	Command []string
	WorkDir string
}

// Export runs the command once
func (e *CommandExporter) Export(ctx context.Context, opts ExportOptions) error {
	if len(e.Command) == 0 {
		return errors.New("no export command configured")
	}

	args := append(append([]string{}, e.Command[1:]...), exportFlags(opts)...)
	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	cmd.Dir = e.WorkDir
	cmd.Env = append(os.Environ(),
		"APPHOST_EXPORT_DIR="+opts.Dir,
		"APPHOST_EXPORT_API_URL="+opts.APIURL,
		"APPHOST_EXPORT_DEPLOY_URL="+opts.DeployURL,
		"APPHOST_EXPORT_FRONTEND="+strconv.FormatBool(opts.IncludeFrontend),
		"APPHOST_EXPORT_BACKEND="+strconv.FormatBool(opts.IncludeBackend),
		"APPHOST_EXPORT_ZIP="+strconv.FormatBool(opts.Zip),
	)

	output, err := cmd.CombinedOutput()
	log.Debug().Str("output", string(output)).Strs("command", e.Command).Msg("Export command output")

	if err != nil {
		return fmt.Errorf("export command failed: %w, output: %s", err, string(output))
	}
	return nil
}

// exportFlags renders opts as command line flags. Booleans are only present when set.
func exportFlags(opts ExportOptions) []string {
	flags := []string{"--dir", opts.Dir}
	if opts.APIURL != "" {
		flags = append(flags, "--api-url", opts.APIURL)
	}
	if opts.DeployURL != "" {
		flags = append(flags, "--deploy-url", opts.DeployURL)
	}
	if opts.IncludeBackend {
		flags = append(flags, "--backend")
	}
	if opts.IncludeFrontend {
		flags = append(flags, "--frontend")
	}
	if opts.Zip {
		flags = append(flags, "--zip")
	}
	return flags
}

// DirExporter zips prebuilt backend and frontend directories
type DirExporter struct {
	BackendDir  string
	FrontendDir string
}

// Export zips whichever component opts selects
func (e *DirExporter) Export(ctx context.Context, opts ExportOptions) error {
	if opts.IncludeBackend {
		if err := zipDir(ctx, e.BackendDir, filepath.Join(opts.Dir, BackendZip)); err != nil {
			return fmt.Errorf("zip backend: %w", err)
		}
	}
	if opts.IncludeFrontend {
		if err := zipDir(ctx, e.FrontendDir, filepath.Join(opts.Dir, FrontendZip)); err != nil {
			return fmt.Errorf("zip frontend: %w", err)
		}
	}
	return nil
}

func zipDir(ctx context.Context, src, dest string) error {
	if src == "" {
		return errors.New("source directory not configured")
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	err = filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		w, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		writer.Close()
		return err
	}

	if err := writer.Close(); err != nil {
		return err
	}
	return out.Close()
}
