package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/gopherpaint/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(cfgPath)
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("GopherPaint Setup")
		fmt.Println("Press Enter to keep the value shown in brackets.")
		fmt.Println()

		cfg.Gemini.APIKey = promptSecret(scanner, "Gemini API key", cfg.Gemini.APIKey)
		cfg.Gemini.ImageModel = prompt(scanner, "Image model", cfg.Gemini.ImageModel)
		cfg.Gemini.VideoModel = prompt(scanner, "Video model", cfg.Gemini.VideoModel)
		cfg.Gemini.AspectRatio = prompt(scanner, "Video aspect ratio", cfg.Gemini.AspectRatio)
		cfg.Gemini.ImageSize = prompt(scanner, "Image size (1K, 2K or 4K)", cfg.Gemini.ImageSize)
		cfg.DataDir = prompt(scanner, "Data directory", cfg.DataDir)
		cfg.Telegram.Token = promptSecret(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		if !cfg.SetupComplete() {
			fmt.Println("No API key set; generation will fail until one is configured.")
		}
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}

// promptSecret is prompt with the current value masked.
func promptSecret(scanner *bufio.Scanner, label, current string) string {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, config.Mask(current))
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return current
}
