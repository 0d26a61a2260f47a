package identity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// aliasFile is the on-disk alias table:
//
//	aliases:
//	  "123456789012345": "5511999998888"
type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// LoadAliases reads an opaque->phone alias table from a YAML file.
func LoadAliases(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file %s: %w", path, err)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}

	out := make(map[string]string, len(f.Aliases))
	for opaque, phone := range f.Aliases {
		base, digits := CanonicalOpaque(opaque), CanonicalPhone(phone)
		if base == "" || digits == "" {
			return nil, fmt.Errorf("alias %q -> %q: both sides must be non-empty", opaque, phone)
		}
		out[base] = digits
	}
	return out, nil
}
