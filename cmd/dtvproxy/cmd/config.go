package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/dtvproxy/internal/config"
	"github.com/jmylchreest/dtvproxy/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing dtvproxy configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  dtvproxy config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .dtvproxy.yaml, /etc/dtvproxy/config.yaml)
  - Environment variables (DTVPROXY_SERVER_PORT, DTVPROXY_PROXY_STATIC_PORT, etc.)
  - Command-line flags (for some options)

Environment variables use the DTVPROXY_ prefix and underscores for nesting.
Example: server.port -> DTVPROXY_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	var b strings.Builder
	b.WriteString("# dtvproxy Configuration File\n")
	b.WriteString("# ============================\n")
	b.WriteString("#\n")
	b.WriteString("# All values shown below are defaults.\n")
	b.WriteString("# Duration format: 30s, 5m, 1h (Go duration syntax; d and w units are not accepted)\n")
	b.WriteString("#\n")
	b.WriteString("# Environment variable overrides:\n")
	b.WriteString("#   DTVPROXY_SERVER_HOST, DTVPROXY_SERVER_PORT\n")
	b.WriteString("#   DTVPROXY_PROXY_STATIC_PORT, DTVPROXY_PROXY_DEBUG_PORT\n")
	b.WriteString("#   DTVPROXY_RECORDING_OUTPUT_DIR, DTVPROXY_RECORDING_SEGMENT_MINUTES\n")
	b.WriteString("#   DTVPROXY_LOGGING_LEVEL, DTVPROXY_LOGGING_FORMAT\n")
	b.WriteString("#\n\n")
	b.Write(yamlData)

	fmt.Print(b.String())
	return nil
}
