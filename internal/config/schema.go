// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for cooldownd.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration. Keys must
	// match registered module IDs (e.g. "engine.cooldown",
	// "channel.discord").
	Modules map[string]yaml.Node `yaml:"modules"`

	// moduleOrder preserves the document order of the modules mapping;
	// modules start in this order and stop in reverse.
	moduleOrder []string
}

// ModuleOrder returns the configured module IDs in document order.
func (c *Config) ModuleOrder() []string {
	return c.moduleOrder
}

// UnmarshalYAML decodes the config while capturing the order of module keys,
// which map decoding would otherwise lose.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plain Config
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "modules" {
			continue
		}
		mapping := node.Content[i+1]
		// Mapping nodes interleave key and value nodes.
		for j := 0; j+1 < len(mapping.Content); j += 2 {
			c.moduleOrder = append(c.moduleOrder, mapping.Content[j].Value)
		}
	}
	return nil
}
