package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mousedb/pkg/domain"
)

// Format selects the document encoding.
type Format string

// Supported encodings.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension; anything other than
// .yaml or .yml is JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode serialises the document.
func Encode(doc Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode snapshot yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode snapshot yaml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON, "":
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode snapshot json: %w", err)
		}
		return append(out, '\n'), nil
	}
	return nil, fmt.Errorf("unsupported snapshot format %q", format)
}

// versionProbe reads only the version tag so a document from another layout
// version is reported as a mismatch rather than as corrupt.
type versionProbe struct {
	SchemaVersion int `json:"schema_version" yaml:"schema_version"`
}

// Decode parses and validates a document.
func Decode(data []byte, format Format) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, domain.Corrupt("document is empty")
	}
	unmarshal := json.Unmarshal
	if format == FormatYAML {
		unmarshal = yaml.Unmarshal
	}

	var probe versionProbe
	if err := unmarshal(data, &probe); err != nil {
		return Document{}, domain.Corrupt("parse %s: %v", format, err)
	}
	if err := checkVersion(probe.SchemaVersion); err != nil {
		return Document{}, err
	}

	var doc Document
	if err := unmarshal(data, &doc); err != nil {
		return Document{}, domain.Corrupt("parse %s: %v", format, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}
