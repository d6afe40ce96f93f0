package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/pawnguard/internal/config"
)

// runConfigCmd implements `pawnguard config [--show|--validate path]`.
func runConfigCmd(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	show := fs.Bool("show", false, "print the effective (defaulted) configuration as YAML")
	validate := fs.String("validate", "", "validate the config file at this path and exit")
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := *configPath
	if *validate != "" {
		target = *validate
	}

	cfg, err := config.Load(target)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	if *validate != "" {
		fmt.Printf("%s: valid\n", target)
		return nil
	}

	if *show {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		os.Stdout.Write(out)
		return nil
	}

	fmt.Printf("%s: valid\n", target)
	return nil
}
