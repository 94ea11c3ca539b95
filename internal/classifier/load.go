package classifier

import (
	"os"

	"gopkg.in/yaml.v2"
)

// FileTables is the on-disk shape of one classifier table file, used for
// the three pattern-list paths of config.ClassifierConfig (safelist,
// blocklist, dangerous patterns).
type FileTables struct {
	Patterns []string `yaml:"patterns"`
}

// LoadTable reads one YAML table file. A missing path is not an error —
// config.ClassifierConfig's paths are all optional, and New already falls
// back to its built-in defaults for any empty slice.
func LoadTable(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ft FileTables
	if err := yaml.NewDecoder(f).Decode(&ft); err != nil {
		return nil, err
	}
	return ft.Patterns, nil
}

// FileTrustExclusions is the on-disk shape of the trust-exclusion table,
// which has three named lists instead of one flat pattern list.
type FileTrustExclusions struct {
	Services []string `yaml:"services"`
	Verbs    []string `yaml:"verbs"`
	Flags    []string `yaml:"flags"`
}

// LoadTrustExclusions reads path into a TrustExclusions, or returns the
// zero value (triggering New's built-in defaults) if path is empty or
// missing.
func LoadTrustExclusions(path string) (TrustExclusions, error) {
	if path == "" {
		return TrustExclusions{}, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return TrustExclusions{}, nil
	}
	if err != nil {
		return TrustExclusions{}, err
	}
	defer f.Close()

	var fte FileTrustExclusions
	if err := yaml.NewDecoder(f).Decode(&fte); err != nil {
		return TrustExclusions{}, err
	}
	return TrustExclusions{Services: fte.Services, Verbs: fte.Verbs, Flags: fte.Flags}, nil
}
