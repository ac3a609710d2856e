// Package template resolves the optional binding between a BMP entity
// (such as BMP_ROUTER) and the bus topic its templated record should be
// published to. It is loaded once at startup from a YAML file and never
// mutated afterward, so the same Map is safely shared across connections.
package template

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Map is a topic-name binding keyed by entity name (e.g. "BMP_ROUTER").
// A nil or empty Map means no templated records are ever emitted.
type Map map[string]string

// Lookup reports the topic bound to entity, if any.
func (m Map) Lookup(entity string) (string, bool) {
	if m == nil {
		return "", false
	}
	topic, ok := m[entity]
	return topic, ok
}

// Load reads a template binding file. An empty path is valid and yields a
// nil Map (no templated records emitted, per spec's optional collaborator
// wiring). A load failure clears the map rather than failing startup: the
// connection continues without templated records.
func Load(path string) (Map, error) {
	if path == "" {
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("template: load %s: %w", path, err)
	}

	raw := k.StringMap("bindings")
	if raw == nil {
		return nil, nil
	}

	m := make(Map, len(raw))
	for entity, topic := range raw {
		m[entity] = topic
	}
	return m, nil
}
