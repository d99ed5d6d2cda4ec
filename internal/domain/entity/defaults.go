package entity

import (
	"embed"
	"io/fs"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// DefaultTemplates returns the built-in template set (god, character, place,
// faction, artifact). New worlds are seeded with these; projects override or
// extend them by editing the templates directory.
func DefaultTemplates() (map[string]Template, error) {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		return nil, err
	}
	return LoadTemplatesFS(sub)
}

// DefaultTemplateFiles returns the raw YAML of the built-in templates keyed
// by filename, for seeding a new world's templates directory.
func DefaultTemplateFiles() (map[string][]byte, error) {
	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		raw, err := defaultsFS.ReadFile("defaults/" + entry.Name())
		if err != nil {
			return nil, err
		}
		files[entry.Name()] = raw
	}
	return files, nil
}
