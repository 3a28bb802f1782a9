package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

// formatOf picks the decoder from the file extension. Unknown extensions
// are sniffed: a leading '{' means JSON.
func formatOf(path string, b []byte) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	}
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return formatJSON
	}
	return formatYAML
}

// decodeStrict fills cfg from b. Unknown keys and a second document are
// errors in both formats.
func decodeStrict(path string, b []byte, cfg *Config) error {
	f := formatOf(path, b)
	var err error
	switch f {
	case formatJSON:
		err = decodeJSON(b, cfg)
	default:
		err = decodeYAML(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("config %s (%s): %w", path, f, err)
	}
	return nil
}

func decodeJSON(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// an empty file is an empty config
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

var errTrailingData = errors.New("trailing data after config document")
