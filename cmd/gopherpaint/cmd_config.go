package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/gopherpaint/internal/config"
)

var configReveal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configGetCmd.Flags().BoolVar(&configReveal, "reveal", false, "print secrets in full")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change gopherpaint settings",
	Long: `Settings live in ~/.gopherpaint/config.json (see --config) and are addressed
by dot keys, for example:

  gemini.api_key        Gemini API key (GOOGLE_API_KEY / GEMINI_API_KEY win)
  gemini.image_model    model used for images
  gemini.video_model    model used for videos
  gemini.image_size     1K, 2K or 4K
  gemini.aspect_ratio   video aspect ratio, e.g. 16:9
  poll.interval_seconds wait between video status checks
  poll.max_polls        checks before a video job times out
  costs.image           cost recorded per generated image
  costs.video           cost recorded per generated video
  telegram.token        bot token for "gopherpaint serve"

A running "gopherpaint serve" picks up saved changes on its own.`,
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List settings, optionally only those under a prefix such as gemini",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		effective, err := config.ListValues(loadConfig(), true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		fileCfg, err := config.LoadFile(cfgPath)
		if err != nil {
			return err
		}
		saved, err := config.ListValues(fileCfg, true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		prefix := ""
		if len(args) == 1 {
			prefix = strings.TrimSuffix(args[0], ".") + "."
		}
		for _, k := range config.SortedKeys(effective) {
			if prefix != "" && !strings.HasPrefix(k, prefix) {
				continue
			}
			line := fmt.Sprintf("%s = %v", k, effective[k])
			if fmt.Sprint(saved[k]) != fmt.Sprint(effective[k]) {
				line += "  (from environment)"
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting (secrets masked unless --reveal)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		val, err := config.GetValue(cfgPath, key)
		if err != nil {
			return withKeyHint(err, key)
		}
		if s, ok := val.(string); ok && config.IsSecretKey(key) && !configReveal && s != "" {
			val = config.Mask(s)
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Save one setting to the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return withKeyHint(err, key)
		}
		if config.IsSecretKey(key) {
			value = config.Mask(value)
		}
		fmt.Fprintf(os.Stdout, "%s = %s\n", key, value)
		return nil
	},
}

// withKeyHint adds the known keys of the same section to an unknown-key
// error, so "gemini.model" suggests "gemini.image_model".
func withKeyHint(err error, key string) error {
	if !strings.HasPrefix(err.Error(), "unknown config key") {
		return err
	}
	values, lerr := config.ListValues(config.Default(), false)
	if lerr != nil {
		return err
	}
	hints := similarKeys(config.SortedKeys(values), key)
	if len(hints) == 0 {
		return err
	}
	return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(hints, ", "))
}

func similarKeys(keys []string, key string) []string {
	section, _, _ := strings.Cut(key, ".")
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, section+".") || k == section {
			out = append(out, k)
		}
	}
	return out
}
