package sim

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/appharness/internal/manifest"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>appharness</title></head>
<body><h1>appharness</h1></body>
</html>
`

// WriteAssets writes a manifest named manifestName and an index page for
// the application uuid into dir. The manifest requests runtime version.
func WriteAssets(dir, manifestName, uuid, version string) error {
	m := manifest.Manifest{
		Runtime: manifest.Runtime{Version: version},
		StartupApp: manifest.StartupApp{
			UUID:     uuid,
			Name:     uuid,
			URL:      "index.html",
			AutoShow: true,
		},
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexHTML), 0o644)
}
