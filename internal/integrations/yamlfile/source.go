// Package yamlfile reads problems from YAML or JSON files.
package yamlfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fleetroute/internal/integrations"
	"fleetroute/internal/opt"
)

var _ integrations.ProblemSource = Source{}

// Source reads a problem file. Files ending in .json are decoded as JSON,
// anything else as YAML. Unknown fields are rejected in both.
type Source struct {
	Path string
}

func (s Source) Name() string { return "file:" + filepath.Base(s.Path) }

func (s Source) Load(ctx context.Context) (opt.Problem, error) {
	if err := ctx.Err(); err != nil {
		return opt.Problem{}, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return opt.Problem{}, fmt.Errorf("read problem: %w", err)
	}
	if strings.EqualFold(filepath.Ext(s.Path), ".json") {
		return DecodeJSON(data)
	}
	return DecodeYAML(data)
}

func DecodeYAML(data []byte) (opt.Problem, error) {
	var p opt.Problem
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, errors.New("empty problem file")
		}
		return p, fmt.Errorf("parse problem: %w", err)
	}
	return p, nil
}

func DecodeJSON(data []byte) (opt.Problem, error) {
	var p opt.Problem
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("parse problem: %w", err)
	}
	return p, nil
}

// Encode writes p as YAML.
func Encode(w io.Writer, p opt.Problem) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
