package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/openmined/idsync/internal/client/replica"
	"gopkg.in/yaml.v3"
)

// Seed is a tree to start the hosted replica with. Entries ending in / are
// directories and are created in order, so parents must come first.
//
//	entries:
//	  - docs/
//	  - docs/readme.md
type Seed struct {
	Entries []string `yaml:"entries"`
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return &seed, nil
}

func (s *Seed) Apply(remote *replica.Memory) error {
	for _, entry := range s.Entries {
		var err error
		if dir, ok := strings.CutSuffix(entry, "/"); ok {
			_, err = remote.Mkdir(dir)
		} else {
			_, err = remote.WriteFile(entry)
		}
		if err != nil {
			return fmt.Errorf("seed %q: %w", entry, err)
		}
	}
	return nil
}
