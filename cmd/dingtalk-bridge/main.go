package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/dingtalk-bridge/internal/config"
	"github.com/memohai/dingtalk-bridge/internal/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "dingtalk-bridge",
		Short:         "DingTalk robot bridge to an LLM gateway",
		Long:          "dingtalk-bridge relays DingTalk robot messages to an OpenAI compatible gateway and streams replies into AI cards.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default: $CONFIG_PATH or config.toml)")

	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if path := strings.TrimSpace(configPath); path != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv("CONFIG_PATH"))
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Starting dingtalk-bridge %s\n", version.Get())
			app := newApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and media tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok (inbound=%s, robot=%s, cards=%t)\n",
				cfg.DingTalk.InboundMode, cfg.DingTalk.EffectiveRobotCode(), cfg.DingTalk.CardsEnabled())
			var missing []string
			for _, bin := range []string{cfg.Media.FFmpegPath, cfg.Media.FFprobePath} {
				if path, err := exec.LookPath(bin); err != nil {
					missing = append(missing, bin)
				} else {
					fmt.Fprintf(out, "found %s\n", path)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("media tools not found: %s (video and audio markers will fail)", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "dingtalk-bridge %s %s\n", info, info.GoVersion)
		},
	}
}
