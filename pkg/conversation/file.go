package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported transcript format")

// LoadFromFile reads a transcript from a JSON or YAML file, picked by extension.
func LoadFromFile(filename string) (*Conversation, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ret := &Conversation{}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		err = json.Unmarshal(b, ret)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, ret)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", filename)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not load transcript %s", filename)
	}

	return ret, nil
}

// SaveToFile writes the transcript to a JSON or YAML file, picked by extension.
func (c *Conversation) SaveToFile(filename string) error {
	var (
		b   []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		b, err = json.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		b, err = yaml.Marshal(c)
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "%s", filename)
	}
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(filename, b, 0o644)
}
