package store

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadCharactersFromFile reads a YAML (or JSON) list of characters. Records
// without an id get a fresh one.
func LoadCharactersFromFile(path string) ([]Character, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var characters []Character
	if err := yaml.Unmarshal(b, &characters); err != nil {
		return nil, errors.Wrapf(err, "could not parse characters from %s", path)
	}

	for i := range characters {
		if strings.TrimSpace(characters[i].Title) == "" {
			return nil, errors.Errorf("character %d in %s has no title", i, path)
		}
		if characters[i].ID == 0 {
			characters[i].ID = NextID()
		}
	}
	return characters, nil
}

// ImportCharacters appends every character to the store, in order.
func ImportCharacters(ctx context.Context, characters CharacterStore, items []Character) error {
	for _, c := range items {
		if err := characters.Append(ctx, c); err != nil {
			return errors.Wrapf(err, "could not import character %q", c.Title)
		}
	}
	return nil
}
