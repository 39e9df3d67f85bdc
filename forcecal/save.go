package forcecal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CK6170/forcecal-go/models"
)

// Exporter persists a calibration document.
type Exporter interface {
	WriteCalibration(path string, doc models.Document) error
}

// FileExporter writes indented JSON, or YAML when the path ends in .yaml/.yml.
type FileExporter struct{}

func (FileExporter) WriteCalibration(path string, doc models.Document) error {
	data, err := EncodeCalibration(path, doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportFailure, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrExportFailure, err)
	}
	return nil
}

// EncodeCalibration renders doc in the format implied by path.
func EncodeCalibration(path string, doc models.Document) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// LoadCalibration reads a document written by FileExporter.
func LoadCalibration(path string) (models.Document, error) {
	var doc models.Document
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(b, &doc)
	} else {
		err = json.Unmarshal(b, &doc)
	}
	if err != nil {
		return doc, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if _, err := doc.Matrix(); err != nil {
		return doc, err
	}
	return doc, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
