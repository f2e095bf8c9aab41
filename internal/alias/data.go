package alias

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
)

//go:embed data/aliases.yaml
var defaultData []byte

// Default builds a Resolver from the embedded reference data.
func Default() (*Resolver, error) {
	entries, err := Parse(defaultData)
	if err != nil {
		return nil, eris.Wrap(err, "alias: embedded data")
	}
	return NewResolver(entries)
}

// DefaultEntries returns the raw embedded entries.
func DefaultEntries() ([]Entry, error) {
	entries, err := Parse(defaultData)
	if err != nil {
		return nil, eris.Wrap(err, "alias: embedded data")
	}
	return entries, nil
}

// ReadFileEntries returns the raw entries of a YAML alias file.
func ReadFileEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "alias: read %s", path)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "alias: load %s", path)
	}
	return entries, nil
}

// LoadFile builds a Resolver from a YAML alias file on disk.
func LoadFile(path string) (*Resolver, error) {
	entries, err := ReadFileEntries(path)
	if err != nil {
		return nil, err
	}
	return NewResolver(entries)
}
