// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultNetTimeout = 3 * time.Second
	activeMarker      = "active"
	manifestName      = "manifest.json"
)

// defaultOfflineHTML is served for navigations when both the network and the
// cache come up empty.
var defaultOfflineHTML = []byte(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>Saved drafts are still available and will sync when the connection returns.</p>
</body>
</html>
`)

// AssetCache is a disk-backed cache of app shell assets, keyed by URL, plus a
// directory of installed versions. It implements the network-first policy:
// try the network with a short timeout, fall back to the cached copy.
type AssetCache struct {
	root       string
	httpc      *http.Client
	netTimeout time.Duration
	logger     *slog.Logger
	offline    []byte
}

// NewAssetCache opens (creating if needed) a cache rooted at dir.
func NewAssetCache(dir string, logger *slog.Logger) (*AssetCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, sub := range []string{"assets", "versions"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &AssetCache{
		root:       dir,
		httpc:      &http.Client{},
		netTimeout: defaultNetTimeout,
		logger:     logger,
		offline:    defaultOfflineHTML,
	}, nil
}

// SetHTTPClient overrides the client used for network-first fetches.
func (a *AssetCache) SetHTTPClient(c *http.Client) { a.httpc = c }

// SetNetworkTimeout overrides the per-request network budget.
func (a *AssetCache) SetNetworkTimeout(d time.Duration) { a.netTimeout = d }

// SetOfflineFallback replaces the built-in offline navigation page.
func (a *AssetCache) SetOfflineFallback(html []byte) { a.offline = html }

// InstallVersion copies the staged asset tree for version into the cache.
// A partially written install is removed so a retry starts clean.
func (a *AssetCache) InstallVersion(version, srcDir string) error {
	if version == "" {
		return errors.New("empty version")
	}
	dst := a.versionDir(version)
	if err := copyTree(srcDir, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("install %s: %w", version, err)
	}
	return nil
}

// Activate marks version as the one in control. The version must have been
// installed first.
func (a *AssetCache) Activate(version string) error {
	info, err := os.Stat(a.versionDir(version))
	if err != nil || !info.IsDir() {
		return fmt.Errorf("version %s not installed", version)
	}
	tmp := filepath.Join(a.root, activeMarker+".tmp")
	if err := os.WriteFile(tmp, []byte(version), 0o644); err != nil {
		return fmt.Errorf("write active marker: %w", err)
	}
	return os.Rename(tmp, filepath.Join(a.root, activeMarker))
}

// ActiveVersion returns the version currently in control, or "" when none has
// been activated yet.
func (a *AssetCache) ActiveVersion() string {
	data, err := os.ReadFile(filepath.Join(a.root, activeMarker))
	if err != nil {
		return ""
	}
	return string(data)
}

// PruneVersions removes installed versions other than keep. Called after a
// successful activation to reclaim disk.
func (a *AssetCache) PruneVersions(keep string) error {
	entries, err := os.ReadDir(filepath.Join(a.root, "versions"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(a.versionDir(e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// PrewarmInstalled loads an installed version's manifest, if present, and
// caches the URLs it lists. Missing manifests are not an error.
func (a *AssetCache) PrewarmInstalled(ctx context.Context, version string) error {
	data, err := os.ReadFile(filepath.Join(a.versionDir(version), manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var manifest struct {
		Assets []string `json:"assets"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse %s: %w", manifestName, err)
	}
	return a.Prewarm(ctx, manifest.Assets)
}

// Prewarm fetches each URL and stores the body. Individual failures are
// logged and skipped; prewarming is best effort.
func (a *AssetCache) Prewarm(ctx context.Context, urls []string) error {
	var failed int
	for _, u := range urls {
		if _, _, err := a.Fetch(ctx, u); err != nil {
			a.logger.Warn("prewarm failed", "url", u, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d assets failed", failed, len(urls))
	}
	return nil
}

// Fetch resolves url network-first: a successful response refreshes the cache
// and is returned; on any network failure the cached copy, if present, is
// returned with fromCache true.
func (a *AssetCache) Fetch(ctx context.Context, url string) (data []byte, fromCache bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.netTimeout)
	defer cancel()

	body, netErr := a.fetchNetwork(reqCtx, url)
	if netErr == nil {
		if err := a.put(url, body); err != nil {
			a.logger.Warn("cache write failed", "url", url, "error", err)
		}
		return body, false, nil
	}

	cached, cacheErr := a.get(url)
	if cacheErr == nil {
		a.logger.Debug("served from cache", "url", url, "cause", netErr)
		return cached, true, nil
	}
	return nil, false, fmt.Errorf("fetch %s: %w", url, netErr)
}

// FetchNavigation is Fetch for page navigations: when both the network and
// the cache miss, the offline fallback page is returned instead of an error.
func (a *AssetCache) FetchNavigation(ctx context.Context, url string) (data []byte, fromCache bool, err error) {
	data, fromCache, err = a.Fetch(ctx, url)
	if err == nil {
		return data, fromCache, nil
	}
	a.logger.Info("serving offline fallback", "url", url)
	return a.offline, true, nil
}

func (a *AssetCache) fetchNetwork(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (a *AssetCache) put(url string, data []byte) error {
	return os.WriteFile(a.assetPath(url), data, 0o644)
}

func (a *AssetCache) get(url string) ([]byte, error) {
	return os.ReadFile(a.assetPath(url))
}

func (a *AssetCache) assetPath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(a.root, "assets", hex.EncodeToString(sum[:]))
}

func (a *AssetCache) versionDir(version string) string {
	return filepath.Join(a.root, "versions", version)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
