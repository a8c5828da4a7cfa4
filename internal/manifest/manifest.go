// Package manifest reads the application manifest served to the container.
//
// Only the parts the harness acts on are decoded: the runtime version,
// which decides whether a running container can be shared, and the
// startup application's identity.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
)

// maxManifestSize bounds how much of a response body is read.
const maxManifestSize = 1 << 20

// Manifest is the application manifest.
type Manifest struct {
	Runtime    Runtime    `json:"runtime"`
	StartupApp StartupApp `json:"startup_app"`
}

// Runtime is the container section of a manifest.
type Runtime struct {
	Version   string `json:"version"`
	Arguments string `json:"arguments,omitempty"`
}

// StartupApp describes the application the container starts.
type StartupApp struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	AutoShow bool   `json:"autoShow,omitempty"`
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewValidationError("manifest is not valid JSON").WithValue(err.Error())
	}
	if m.Runtime.Version == "" {
		return nil, errors.NewValidationError("manifest declares no runtime version").WithField("runtime.version")
	}
	return &m, nil
}

// Loader fetches a manifest by URL.
type Loader interface {
	Load(ctx context.Context, url string) (*Manifest, error)
}

// HTTPLoader loads manifests over HTTP.
type HTTPLoader struct {
	client *http.Client
	logger *logging.Logger
}

// NewHTTPLoader creates an HTTPLoader. A nil client gets a 10 second timeout.
func NewHTTPLoader(client *http.Client, logger *logging.Logger) *HTTPLoader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &HTTPLoader{client: client, logger: logger.WithComponent("manifest")}
}

// Load fetches and parses the manifest at url.
func (l *HTTPLoader) Load(ctx context.Context, url string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build manifest request for %s", url)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch manifest %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewNotFoundError("manifest", url).
			WithCause(fmt.Errorf("unexpected status %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", url)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", url)
	}

	l.logger.Info("manifest loaded",
		"url", url,
		"runtime_version", m.Runtime.Version,
		"app_uuid", m.StartupApp.UUID)
	return m, nil
}
