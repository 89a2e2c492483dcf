package category

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed specs/*.yaml
var builtinSpecs embed.FS

// ParseSpec decodes one YAML spec, rejecting unknown keys, then normalizes
// and validates it.
func ParseSpec(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	spec.Normalize()
	if err := ValidateSpec(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadSpecs parses every *.yaml file at the root of fsys, ordered by name.
func LoadSpecs(fsys fs.FS) ([]*Spec, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	specs := make([]*Spec, 0, len(names))
	keys := make(map[string]string, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		spec, err := ParseSpec(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, dup := keys[spec.Key]; dup {
			return nil, fmt.Errorf("%w: key %q used by both %s and %s", ErrInvalidSpec, spec.Key, prev, name)
		}
		keys[spec.Key] = name
		specs = append(specs, spec)
	}
	return specs, nil
}

// BuiltinSpecs returns the specs shipped with the binary.
func BuiltinSpecs() ([]*Spec, error) {
	sub, err := fs.Sub(builtinSpecs, "specs")
	if err != nil {
		return nil, err
	}
	return LoadSpecs(sub)
}

// SpecsFromDir loads specs from dir, or the built-in ones when dir is empty.
func SpecsFromDir(dir string) ([]*Spec, error) {
	if dir == "" {
		return BuiltinSpecs()
	}
	return LoadSpecs(os.DirFS(dir))
}
