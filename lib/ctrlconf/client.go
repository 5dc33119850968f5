// Package ctrlconf reads and writes the control plane's configuration
// documents: the published service config, the VPN adapter template, the
// deferred install command built from them and the host-local config.
package ctrlconf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/paths"
)

// maxDocumentSize bounds any single remote document.
const maxDocumentSize = 8 << 20

// Client fetches and persists control-plane documents.
type Client struct {
	http   *http.Client
	config *config.Config
	paths  *paths.Paths
}

// NewClient creates a control-plane document client.
func NewClient(cfg *config.Config, p *paths.Paths, httpClient *http.Client) *Client {
	return &Client{http: httpClient, config: cfg, paths: p}
}

// FetchConfig retrieves the published control-plane configuration.
func (c *Client) FetchConfig(ctx context.Context) (Document, error) {
	body, err := c.get(ctx, c.config.ControlPlane.ConfigURL)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := decodeJSON(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrFetch, c.config.ControlPlane.ConfigURL, err)
	}
	return doc, nil
}

// FetchTemplate retrieves the VPN adapter config template with line breaks
// removed so it fits in a single quoted shell argument.
func (c *Client) FetchTemplate(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.config.VPN.TemplateURL)
	if err != nil {
		return "", err
	}
	return strings.NewReplacer("\r", "", "\n", "").Replace(string(body)), nil
}

// ServicePorts returns the listeners the published config declares.
func (c *Client) ServicePorts(ctx context.Context) ([]ServicePort, error) {
	doc, err := c.FetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	return doc.ServicePorts()
}

// AdapterConfigPath is the host path of the VPN adapter config.
func (c *Client) AdapterConfigPath() string {
	return c.paths.ComponentFile(c.config.VPN.Component, c.config.VPN.AdapterConfig)
}

// LocalConfigPath is the host path of the control plane's local config.
func (c *Client) LocalConfigPath() string {
	return c.paths.ComponentFile(c.config.ControlPlane.Component, c.config.ControlPlane.LocalConfig)
}

// BuildDeferredCommand assembles the deferred install command from the
// published config and adapter template and persists it.
func (c *Client) BuildDeferredCommand(ctx context.Context) (string, error) {
	log := logger.FromContext(ctx)

	doc, err := c.FetchConfig(ctx)
	if err != nil {
		return "", err
	}
	connstr, err := ConnString(doc.DBParams(c.config.Database.Defaults))
	if err != nil {
		return "", err
	}
	tmpl, err := c.FetchTemplate(ctx)
	if err != nil {
		return "", err
	}

	cmd := fmt.Sprintf(c.config.ControlPlane.DeferredCommand, tmpl, c.AdapterConfigPath(), connstr)
	path := c.paths.DeferredCommand()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(cmd+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write deferred command: %w", err)
	}
	log.InfoContext(ctx, "deferred install command written", "path", path)
	return cmd, nil
}

// ReadDeferredCommand returns the persisted command's first line.
func (c *Client) ReadDeferredCommand() (string, error) {
	data, err := os.ReadFile(c.paths.DeferredCommand())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDeferredCommand, err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	if strings.TrimSpace(line) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrDeferredCommand, c.paths.DeferredCommand())
	}
	return line, nil
}

// DeferredCommandExists reports whether a command has been persisted.
func (c *Client) DeferredCommandExists() bool {
	_, err := os.Stat(c.paths.DeferredCommand())
	return err == nil
}

// WriteAdapterTemplate stores the unmodified adapter template as the VPN
// adapter config. Test deployments use it in place of the deferred install.
func (c *Client) WriteAdapterTemplate(ctx context.Context) error {
	body, err := c.get(ctx, c.config.VPN.TemplateURL)
	if err != nil {
		return err
	}
	path := c.AdapterConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create adapter config dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("write adapter config: %w", err)
	}
	return nil
}

// UpdatePayAddress replaces the host part of the local config's pay address
// URL with this host's public IP.
func (c *Client) UpdatePayAddress(ctx context.Context) error {
	log := logger.FromContext(ctx)
	field := c.config.ControlPlane.PayAddressField

	body, err := c.get(ctx, c.config.ControlPlane.PublicIPURL)
	if err != nil {
		return err
	}
	ip := strings.TrimSpace(string(body))

	path := c.LocalConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read local config: %w", err)
	}
	var doc Document
	if err := decodeJSON(data, &doc); err != nil {
		return fmt.Errorf("decode local config: %w", err)
	}

	current, ok := doc[field].(string)
	if !ok {
		return fmt.Errorf("%w: %s is not a string", ErrPayAddress, field)
	}
	updated, err := replaceHost(current, ip)
	if err != nil {
		return err
	}
	doc[field] = updated

	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode local config: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0644); err != nil {
		return fmt.Errorf("write local config: %w", err)
	}
	log.InfoContext(ctx, "pay address updated", "field", field, "value", updated)
	return nil
}

// replaceHost rewrites the second ':'-separated segment of a URL such as
// "http://localhost:9000/v1" to "//ip".
func replaceHost(addr, ip string) (string, error) {
	parts := strings.Split(addr, ":")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q has no host segment", ErrPayAddress, addr)
	}
	parts[1] = "//" + ip
	return strings.Join(parts, ":"), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d from %s", ErrFetch, resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrFetch, url, err)
	}
	return body, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
