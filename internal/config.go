// Module configuration.

// The configuration is loaded from a YAML file, with the following structure:
//
//  threadly_config:
//    instance: threadly
//    scheduler_config:
//      ...
//    key_distributor_config:
//      ...
//    log_config:
//      ...
//    stats_reporter_config:
//      ...
//
// The "threadly_config" section maps to the Config structure defined in this
// package. Any other top-level section is ignored, so an embedder can share
// the same YAML file with its own configuration.

package threadly_internal

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	THREADLY_CONFIG_SECTION_NAME = "threadly_config"

	THREADLY_CONFIG_INSTANCE_DEFAULT = "threadly"
)

type Config struct {
	// The instance name, used only for logging/stats labeling:
	Instance string `yaml:"instance"`

	// Specific components configuration.
	SchedulerConfig      *SchedulerConfig      `yaml:"scheduler_config"`
	KeyDistributorConfig *KeyDistributorConfig `yaml:"key_distributor_config"`
	LoggerConfig         *LoggerConfig         `yaml:"log_config"`
	StatsReporterConfig  *StatsReporterConfig  `yaml:"stats_reporter_config"`
}

func DefaultConfig() *Config {
	return &Config{
		Instance:             THREADLY_CONFIG_INSTANCE_DEFAULT,
		SchedulerConfig:      DefaultSchedulerConfig(),
		KeyDistributorConfig: DefaultKeyDistributorConfig(),
		LoggerConfig:         DefaultLoggerConfig(),
		StatsReporterConfig:  DefaultStatsReporterConfig(),
	}
}

// LoadConfig loads the configuration from the specified YAML file (or buf,
// for testing) returning the "threadly_config" section as a *Config
// structure. Any other top-level section is ignored.
func LoadConfig(cfgFile string, buf []byte) (*Config, error) {
	if buf == nil {
		// Normal case, buf is pre-populated only for testing.
		f, err := os.Open(cfgFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
		}
	}

	docNode := yaml.Node{}
	err := yaml.Unmarshal(buf, &docNode)
	if err != nil {
		return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
	}

	cfg := DefaultConfig()
	if docNode.Kind == yaml.DocumentNode && len(docNode.Content) > 0 {
		rootNode := docNode.Content[0]
		if rootNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("file: %q: invalid YAML root node %q", cfgFile, rootNode.Tag)
		}
		wantSection := false
		for _, n := range rootNode.Content {
			if n.Kind == yaml.ScalarNode {
				wantSection = (n.Value == THREADLY_CONFIG_SECTION_NAME)
				continue
			}
			if n.Kind == yaml.MappingNode && wantSection {
				if err = n.Decode(cfg); err != nil {
					return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
				}
			}
			wantSection = false
		}
	}

	return cfg, nil
}
