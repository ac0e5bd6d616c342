// Package stage reads the user-supplied deploy variables that steer database configuration.
package stage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/fgeck/cloud-dbops/internal/merge"
	"github.com/fgeck/cloud-dbops/internal/models"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Deploy variable names.
const (
	VarDatabaseConfiguration = "DATABASE_CONFIGURATION"
	VarResourceConfiguration = "RESOURCE_CONFIGURATION"
	VarUseSlaveConnection    = "MYSQL_USE_SLAVE_CONNECTION"
)

// CloudVariablesEnv holds base64-encoded JSON variables set on the environment.
const CloudVariablesEnv = "MAGENTO_CLOUD_VARIABLES"

// stageFile is the layout of the stage file; stage.deploy overrides stage.global.
type stageFile struct {
	Stage struct {
		Global map[string]any `yaml:"global"`
		Deploy map[string]any `yaml:"deploy"`
	} `yaml:"stage"`
}

// Reader loads stage configuration.
type Reader struct {
	path   string
	envVar string
}

// NewReader creates a reader for the given stage file. A missing file is treated as empty.
func NewReader(path string) *Reader {
	return &Reader{path: path, envVar: CloudVariablesEnv}
}

// Read merges the stage file with cloud variables and returns the deploy variables.
func (r *Reader) Read() (models.StageConfig, error) {
	vars := map[string]any{}

	if r.path != "" {
		raw, err := os.ReadFile(r.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return models.StageConfig{}, fmt.Errorf("reading stage file: %w", err)
		default:
			var sf stageFile
			if err := yaml.Unmarshal(raw, &sf); err != nil {
				return models.StageConfig{}, fmt.Errorf("parsing stage file: %w", err)
			}
			for k, v := range sf.Stage.Global {
				vars[k] = v
			}
			for k, v := range sf.Stage.Deploy {
				vars[k] = v
			}
		}
	}

	if encoded := strings.TrimSpace(os.Getenv(r.envVar)); encoded != "" {
		cloudVars, err := decodeCloudVariables(encoded)
		if err != nil {
			return models.StageConfig{}, fmt.Errorf("%s: %w", r.envVar, err)
		}
		for k, v := range cloudVars {
			vars[k] = v
		}
	}

	return fromVariables(vars)
}

func decodeCloudVariables(encoded string) (map[string]any, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return vars, nil
}

func fromVariables(vars map[string]any) (models.StageConfig, error) {
	cfg := models.StageConfig{}

	var err error
	if cfg.DatabaseConfiguration, err = fragment(vars, VarDatabaseConfiguration); err != nil {
		return cfg, err
	}
	if cfg.ResourceConfiguration, err = fragment(vars, VarResourceConfiguration); err != nil {
		return cfg, err
	}
	if cfg.UseSlaveConnection, err = flag(vars, VarUseSlaveConnection); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// fragment accepts a map or a JSON object string, as cloud variables may carry either.
func fragment(vars map[string]any, name string) (map[string]any, error) {
	v, ok := vars[name]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	if m, ok := merge.AsMap(v); ok {
		return merge.CopyMap(m), nil
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("%s must be an object: %w", name, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%s must be an object, got %T", name, v)
}

func flag(vars map[string]any, name string) (bool, error) {
	v, ok := vars[name]
	if !ok || v == nil {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", name, err)
		}
		return parsed, nil
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	default:
		return false, fmt.Errorf("%s must be a boolean, got %T", name, v)
	}
}
