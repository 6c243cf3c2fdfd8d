package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Artifacts are the zips produced for one deployment. Cleanup removes them.
type Artifacts struct {
	Dir         string
	BackendZip  string
	FrontendZip string
}

// Cleanup removes the temporary export directory
func (a *Artifacts) Cleanup() {
	if a == nil || a.Dir == "" {
		return
	}
	if err := os.RemoveAll(a.Dir); err != nil {
		log.Warn().Err(err).Str("dir", a.Dir).Msg("Failed to remove export directory")
	}
}

// Package runs the exporter twice, backend only then frontend only, into a
// fresh temporary directory. On error the directory is already removed; on
// success the caller owns it and must call Cleanup.
func Package(ctx context.Context, exporter Exporter, apiURL, deployURL string) (_ *Artifacts, err error) {
	dir, err := os.MkdirTemp("", "apphost-export-*")
	if err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	artifacts := &Artifacts{
		Dir:         dir,
		BackendZip:  filepath.Join(dir, BackendZip),
		FrontendZip: filepath.Join(dir, FrontendZip),
	}

	defer func() {
		if r := recover(); r != nil {
			artifacts.Cleanup()
			panic(r)
		}
		if err != nil {
			artifacts.Cleanup()
		}
	}()

	log.Info().Str("dir", dir).Msg("Exporting backend")
	if err := exporter.Export(ctx, ExportOptions{
		Dir:            dir,
		APIURL:         apiURL,
		DeployURL:      deployURL,
		IncludeBackend: true,
		Zip:            true,
	}); err != nil {
		return nil, fmt.Errorf("export backend: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Exporting frontend")
	if err := exporter.Export(ctx, ExportOptions{
		Dir:             dir,
		APIURL:          apiURL,
		DeployURL:       deployURL,
		IncludeFrontend: true,
		Zip:             true,
	}); err != nil {
		return nil, fmt.Errorf("export frontend: %w", err)
	}

	for _, path := range []string{artifacts.BackendZip, artifacts.FrontendZip} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("exporter did not produce %s: %w", filepath.Base(path), err)
		}
	}

	return artifacts, nil
}
