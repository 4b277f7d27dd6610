package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"talksync/internal/domain"
	"talksync/internal/infra"
)

// Resolver normalizes heterogeneous input references (local path, remote
// URL, inline base64 payload) into local files the inference engine can
// read. Files it creates are owned by the caller for the request lifetime;
// the resolver never cleans them up.
type Resolver struct {
	httpClient *http.Client
	logger     infra.Logger
}

// NewResolver constructs a resolver. A nil client gets a default with a
// download timeout.
func NewResolver(client *http.Client, logger infra.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Resolver{httpClient: client, logger: logger}
}

// Resolve produces a readable local file for the named logical input. The
// one-of contract is enforced before any I/O happens. URL fetches are a
// single attempt; there is no retry at this layer.
func (r *Resolver) Resolve(ctx context.Context, name string, ref domain.InputRef, dir, filename string) (domain.ResolvedInput, error) {
	if err := ref.Validate(name); err != nil {
		return domain.ResolvedInput{}, err
	}

	switch ref.Source() {
	case domain.SourcePath:
		info, err := os.Stat(ref.Path)
		if err != nil || info.IsDir() {
			return domain.ResolvedInput{}, domain.NewError(domain.CategoryResolution, fmt.Sprintf("%s file not found: %s", name, ref.Path))
		}
		r.logger.Debug().Str("input", name).Str("path", ref.Path).Msg("resolver: using local path")
		return domain.ResolvedInput{Path: ref.Path, Source: domain.SourcePath}, nil

	case domain.SourceURL:
		path, err := r.download(ctx, ref.URL, dir, filename)
		if err != nil {
			return domain.ResolvedInput{}, domain.WrapError(domain.CategoryResolution, fmt.Sprintf("%s download failed", name), err)
		}
		r.logger.Debug().Str("input", name).Str("url", ref.URL).Str("path", path).Msg("resolver: downloaded input")
		return domain.ResolvedInput{Path: path, Source: domain.SourceURL}, nil

	default:
		path, err := r.decode(ref.Base64, dir, filename)
		if err != nil {
			return domain.ResolvedInput{}, domain.WrapError(domain.CategoryResolution, fmt.Sprintf("%s base64 decode failed", name), err)
		}
		r.logger.Debug().Str("input", name).Str("path", path).Msg("resolver: decoded inline input")
		return domain.ResolvedInput{Path: path, Source: domain.SourceInline}, nil
	}
}

func (r *Resolver) download(ctx context.Context, rawURL, dir, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	path, err := targetPath(dir, filename)
	if err != nil {
		return "", err
	}
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (r *Resolver) decode(encoded, dir, filename string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	path, err := targetPath(dir, filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func targetPath(dir, filename string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	abs, err := filepath.Abs(filepath.Join(dir, filename))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return abs, nil
}
