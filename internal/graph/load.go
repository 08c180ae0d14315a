package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"riskflow/backend/pkg/models"
)

// Format is the encoding of a definition document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor guesses a format from a file name. Anything that is not .json
// is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load decodes a definition. It does not validate it.
func Load(data []byte, format Format) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &def)
	default:
		err = yaml.Unmarshal(data, &def)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s definition: %w", format, err)
	}
	return &def, nil
}

// LoadFile reads, decodes and validates a definition file.
func LoadFile(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	def, err := Load(data, FormatFor(path))
	if err != nil {
		return nil, err
	}
	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}
