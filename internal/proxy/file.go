package proxy

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileProvider reads a static roster from a YAML file:
//
//	proxies:
//	  - server: http://10.0.0.1:8080
//	    username: user
//	    password: pass
//
// The file is re-read on every refresh, so edits take effect on the next
// scheduled cycle.
type FileProvider struct {
	Path string
}

type rosterFile struct {
	Proxies []Settings `yaml:"proxies"`
}

// Fetch parses the file and returns its proxies.
func (f *FileProvider) Fetch(ctx context.Context) ([]Settings, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("proxy: read %s: %w", f.Path, err)
	}
	var doc rosterFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("proxy: parse %s: %w", f.Path, err)
	}
	out := make([]Settings, 0, len(doc.Proxies))
	for i, p := range doc.Proxies {
		if p.Server == "" {
			return nil, fmt.Errorf("proxy: %s: entry %d is missing server", f.Path, i)
		}
		out = append(out, p)
	}
	return out, nil
}
