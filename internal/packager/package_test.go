package packager

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExporter writes an empty zip for every requested component
type fakeExporter struct {
	calls   []ExportOptions
	failOn  string
	skipZip bool
}

func (f *fakeExporter) Export(ctx context.Context, opts ExportOptions) error {
	f.calls = append(f.calls, opts)
	if opts.IncludeBackend && f.failOn == "backend" {
		return errors.New("boom")
	}
	if opts.IncludeFrontend && f.failOn == "frontend" {
		return errors.New("boom")
	}
	if f.skipZip {
		return nil
	}
	name := FrontendZip
	if opts.IncludeBackend {
		name = BackendZip
	}
	return os.WriteFile(filepath.Join(opts.Dir, name), []byte("zip"), 0o600)
}

func TestPackage(t *testing.T) {
	ctx := context.Background()

	t.Run("exports backend then frontend", func(t *testing.T) {
		exporter := &fakeExporter{}
		artifacts, err := Package(ctx, exporter, "https://api.example", "https://app.example")
		require.NoError(t, err)
		defer artifacts.Cleanup()

		require.Len(t, exporter.calls, 2)
		assert.True(t, exporter.calls[0].IncludeBackend)
		assert.False(t, exporter.calls[0].IncludeFrontend)
		assert.True(t, exporter.calls[1].IncludeFrontend)
		assert.False(t, exporter.calls[1].IncludeBackend)
		assert.Equal(t, exporter.calls[0].Dir, exporter.calls[1].Dir)
		assert.Equal(t, "https://api.example", exporter.calls[1].APIURL)
		assert.True(t, exporter.calls[0].Zip)

		assert.FileExists(t, artifacts.BackendZip)
		assert.FileExists(t, artifacts.FrontendZip)

		artifacts.Cleanup()
		assert.NoDirExists(t, artifacts.Dir)
	})

	for _, failOn := range []string{"backend", "frontend"} {
		t.Run("removes directory when "+failOn+" export fails", func(t *testing.T) {
			exporter := &fakeExporter{failOn: failOn}
			artifacts, err := Package(ctx, exporter, "", "")
			require.Error(t, err)
			assert.Nil(t, artifacts)
			assert.Contains(t, err.Error(), failOn)

			require.NotEmpty(t, exporter.calls)
			assert.NoDirExists(t, exporter.calls[0].Dir)
		})
	}

	t.Run("missing artifact is an error", func(t *testing.T) {
		exporter := &fakeExporter{skipZip: true}
		_, err := Package(ctx, exporter, "", "")
		require.Error(t, err)
		assert.NoDirExists(t, exporter.calls[0].Dir)
	})

	t.Run("removes directory on panic", func(t *testing.T) {
		var dir string
		exporter := ExporterFunc(func(ctx context.Context, opts ExportOptions) error {
			dir = opts.Dir
			panic("exporter crashed")
		})
		assert.Panics(t, func() { _, _ = Package(ctx, exporter, "", "") })
		assert.NoDirExists(t, dir)
	})
}

func TestDirExporter(t *testing.T) {
	backend := t.TempDir()
	frontend := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(backend, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backend, "app", "main.py"), []byte("print()"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(frontend, "index.html"), []byte("<html/>"), 0o644))

	exporter := &DirExporter{BackendDir: backend, FrontendDir: frontend}
	artifacts, err := Package(context.Background(), exporter, "", "")
	require.NoError(t, err)
	defer artifacts.Cleanup()

	reader, err := zip.OpenReader(artifacts.BackendZip)
	require.NoError(t, err)
	defer reader.Close()
	require.Len(t, reader.File, 1)
	assert.Equal(t, "app/main.py", reader.File[0].Name)

	t.Run("unconfigured directory fails", func(t *testing.T) {
		_, err := Package(context.Background(), &DirExporter{BackendDir: backend}, "", "")
		assert.Error(t, err)
	})
}

func TestCommandExporter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	t.Run("passes options through the environment", func(t *testing.T) {
		exporter := &CommandExporter{Command: []string{"sh", "-c",
			`if [ "$APPHOST_EXPORT_BACKEND" = true ]; then touch "$APPHOST_EXPORT_DIR/backend.zip"; fi; ` +
				`if [ "$APPHOST_EXPORT_FRONTEND" = true ]; then touch "$APPHOST_EXPORT_DIR/frontend.zip"; fi`,
		}}
		artifacts, err := Package(context.Background(), exporter, "", "")
		require.NoError(t, err)
		artifacts.Cleanup()
	})

	t.Run("passes options as flags", func(t *testing.T) {
		dir := t.TempDir()
		exporter := &CommandExporter{Command: []string{"sh", "-c", `printf '%s\n' "$@" > "$APPHOST_EXPORT_DIR/args"`, "export"}}

		err := exporter.Export(context.Background(), ExportOptions{
			Dir:            dir,
			APIURL:         "http://api",
			DeployURL:      "http://app",
			IncludeBackend: true,
			Zip:            true,
		})
		require.NoError(t, err)

		args, err := os.ReadFile(filepath.Join(dir, "args"))
		require.NoError(t, err)
		assert.Equal(t,
			[]string{"--dir", dir, "--api-url", "http://api", "--deploy-url", "http://app", "--backend", "--zip"},
			strings.Fields(string(args)))
	})

	t.Run("failing command", func(t *testing.T) {
		exporter := &CommandExporter{Command: []string{"sh", "-c", "echo nope; exit 3"}}
		err := exporter.Export(context.Background(), ExportOptions{Dir: t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("no command", func(t *testing.T) {
		err := (&CommandExporter{}).Export(context.Background(), ExportOptions{})
		assert.Error(t, err)
	})
}

func TestReadRequirements(t *testing.T) {
	dir := t.TempDir()
	content := "# pinned\nhttpx==0.27.0\nsqlmodel>=0.0.14\nuvicorn\n-r extra.txt\nredis==5.0 # cache\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, RequirementsFile), []byte(content), 0o644))

	reqs := ReadRequirements(dir)
	assert.Equal(t, content, reqs.Raw)
	assert.Equal(t, map[string]string{
		"httpx":    "==0.27.0",
		"sqlmodel": ">=0.0.14",
		"uvicorn":  "*",
		"redis":    "==5.0",
	}, reqs.Packages)

	t.Run("missing file", func(t *testing.T) {
		reqs := ReadRequirements(t.TempDir())
		assert.Empty(t, reqs.Raw)
		assert.Empty(t, reqs.Packages)
	})
}
