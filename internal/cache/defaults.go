package cache

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type defaultRow struct {
	Name      string  `yaml:"name"`
	Timeframe string  `yaml:"timeframe"`
	Phase     string  `yaml:"phase"`
	Level     int     `yaml:"level"`
	Value     float64 `yaml:"value"`
}

type defaultsFile struct {
	Thresholds []defaultRow `yaml:"thresholds"`
}

// loadCompiledDefaults parses the embedded threshold table into a lookup map
// keyed at each row's declared specificity.
func loadCompiledDefaults() (map[string]float64, error) {
	var f defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &f); err != nil {
		return nil, fmt.Errorf("failed to parse embedded threshold defaults: %w", err)
	}

	table := make(map[string]float64, len(f.Thresholds))
	for _, row := range f.Thresholds {
		if row.Name == "" {
			return nil, fmt.Errorf("embedded threshold defaults contain a row without a name")
		}
		table[thresholdKey(row.Name, row.Timeframe, row.Phase, row.Level)] = row.Value
	}
	return table, nil
}
