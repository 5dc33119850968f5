// Package artifacts downloads the service artifacts, unpacks the container
// root filesystems and removes the downloads afterwards.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/paths"
	"github.com/samber/lo"
)

const archiveSuffix = ".tar.xz"

// Manager moves artifacts from the artifact server onto the host.
type Manager interface {
	// Fetch downloads every configured artifact in order and returns the
	// local paths.
	Fetch(ctx context.Context) ([]string, error)
	// Unpack extracts every .tar.xz among files into its component root.
	Unpack(ctx context.Context, files []string) error
	// Cleanup removes downloaded files, logging failures.
	Cleanup(ctx context.Context, files []string)
}

type manager struct {
	paths    *paths.Paths
	config   *config.Config
	client   *http.Client
	maxBytes int64
	// preserveOwner is false only in tests running unprivileged.
	preserveOwner bool
}

// NewManager creates a new artifacts manager.
func NewManager(p *paths.Paths, cfg *config.Config, client *http.Client) (Manager, error) {
	maxBytes, err := cfg.Artifacts.MaxBytes()
	if err != nil {
		return nil, err
	}
	return &manager{
		paths:         p,
		config:        cfg,
		client:        client,
		maxBytes:      maxBytes,
		preserveOwner: true,
	}, nil
}

func (m *manager) Fetch(ctx context.Context) ([]string, error) {
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(m.paths.DownloadDir(), 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	var fetched []string
	for _, name := range m.config.Artifacts.Files {
		src, err := url.JoinPath(m.config.Artifacts.BaseURL, name)
		if err != nil {
			return fetched, fmt.Errorf("%w: artifact url for %s: %v", ErrDownload, name, err)
		}
		dest := m.paths.Artifact(name)
		log.InfoContext(ctx, "downloading artifact", "url", src, "dest", dest)
		if err := Download(ctx, m.client, src, dest); err != nil {
			return fetched, err
		}
		fetched = append(fetched, dest)
	}
	return fetched, nil
}

func (m *manager) Unpack(ctx context.Context, files []string) error {
	log := logger.FromContext(ctx)

	for _, file := range files {
		name := filepath.Base(file)
		if !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		component, ok := lo.Find(m.config.Artifacts.Components, func(c string) bool {
			return strings.Contains(name, c)
		})
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoComponent, name)
		}

		dest := m.paths.ComponentRoot(component)
		n, err := m.extract(file, dest)
		if err != nil {
			return fmt.Errorf("unpack %s: %w", name, err)
		}
		log.InfoContext(ctx, "artifact unpacked", "archive", name, "component", component, "bytes", n)
	}
	return nil
}

func (m *manager) extract(file, dest string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ExtractTarXz(f, dest, ExtractOptions{MaxBytes: m.maxBytes, PreserveOwner: m.preserveOwner})
}

func (m *manager) Cleanup(ctx context.Context, files []string) {
	log := logger.FromContext(ctx)
	for _, file := range files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			log.WarnContext(ctx, "failed to remove artifact", "path", file, "error", err)
			continue
		}
		log.DebugContext(ctx, "artifact removed", "path", file)
	}
}

// Download fetches src into dest. The body is written to a temporary file
// next to dest and renamed into place once complete. Failures wrap
// ErrDownload.
func Download(ctx context.Context, client *http.Client, src, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d from %s", ErrDownload, resp.StatusCode, src)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrDownload, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("%w: create file: %v", ErrDownload, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrDownload, dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrDownload, dest, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", ErrDownload, dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrDownload, dest, err)
	}
	return nil
}
