package homepage

import (
	"errors"
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"
)

// MaxDocumentSize bounds an imported bookmarks.yaml
const MaxDocumentSize = 1 << 20

var templateVariable = regexp.MustCompile(`\{\{[^}]+\}\}`)

// BookmarkLoader parses Homepage bookmarks.yaml documents
type BookmarkLoader struct {
	maxSize int64
}

// NewBookmarkLoader creates a new Homepage bookmark loader
func NewBookmarkLoader() *BookmarkLoader {
	return &BookmarkLoader{maxSize: MaxDocumentSize}
}

// Load reads and parses a bookmarks.yaml document
func (l *BookmarkLoader) Load(r io.Reader) (BookmarksConfig, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks document: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("bookmarks document exceeds %d bytes", l.maxSize)
	}

	// Strip Homepage template variables ({{HOMEPAGE_VAR_...}})
	data = stripTemplateVariables(data)

	var config BookmarksConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks yaml: %w", err)
	}
	if len(config) == 0 {
		return nil, errors.New("bookmarks document is empty")
	}

	return config, nil
}

// stripTemplateVariables removes Homepage template variables from YAML
// Example: {{HOMEPAGE_VAR_ADGUARD_URL}} -> ""
func stripTemplateVariables(data []byte) []byte {
	return templateVariable.ReplaceAll(data, []byte(`""`))
}
