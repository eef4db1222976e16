package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/screenrec/internal/config"
	"github.com/audiolibrelab/screenrec/internal/service"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [output]",
	Short: "Show resolved configuration and file paths for a recording",
	Long: `Display the resolved configuration with inheritance indicators, the
intermediate files a recording to [output] would use, and the effective
per-source buffer limit. Shows which values are inherited from default vs
profile-specific.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var output string
		if len(args) == 1 {
			output = args[0]
		}

		svc := service.New(cfg, cfgFile)
		info, err := svc.GetRecordingInfo(output)
		if err != nil {
			return err
		}

		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("output: %s\n", info.OutputPath)
		fmt.Printf("video_intermediate: %s\n", info.VideoIntermediate)
		if info.AudioIntermediate != "" {
			fmt.Printf("audio_intermediate: %s\n", info.AudioIntermediate)
		}

		fmt.Printf("\n=== LIMITS ===\n")
		switch {
		case info.BufferLimit == 0:
			fmt.Printf("buffer_limit: unbounded\n")
		case info.BufferLimitAuto:
			fmt.Printf("buffer_limit: %d bytes [auto]\n", info.BufferLimit)
		default:
			fmt.Printf("buffer_limit: %d bytes\n", info.BufferLimit)
		}

		values, err := flattenConfig(cfg)
		if err != nil {
			return err
		}

		fmt.Printf("\n=== RESOLVED CONFIGURATION (profile %s) ===\n", cfg.Profile)
		section := ""
		for _, key := range config.TrackedKeys() {
			group, name, _ := strings.Cut(key, ".")
			if group != section {
				section = group
				fmt.Printf("\n[%s]\n", group)
			}
			value, ok := values[key]
			if !ok {
				value = `""`
			}
			fmt.Printf("%s: %s %s\n", name, value, getInheritanceIndicator(cfg.Inheritance.Source(key)))
		}
		return nil
	},
}

// flattenConfig renders cfg as dotted keys, using the same YAML form as
// `config show`.
func flattenConfig(c *config.Config) (map[string]string, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	var tree map[string]map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	values := make(map[string]string)
	for group, fields := range tree {
		for name, v := range fields {
			values[group+"."+name] = formatValue(v)
		}
	}
	return values, nil
}

func formatValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		return fmt.Sprintf("%vx%v+%v+%v", m["width"], m["height"], m["left"], m["top"])
	}
	if v == nil {
		return `""`
	}
	return fmt.Sprint(v)
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.InheritedValue:
		return "[inherited]"
	case config.ProfileSpecificValue:
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
