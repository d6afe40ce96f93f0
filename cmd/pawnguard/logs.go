package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/haasonsaas/pawnguard/internal/audit"
	"github.com/haasonsaas/pawnguard/internal/config"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// runLogs implements `pawnguard logs [--lines N] [--type T] [--level L]`.
func runLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	lines := fs.Int("lines", 50, "maximum number of entries to print, newest last")
	actionType := fs.String("type", "", "filter by action type")
	level := fs.String("level", "", "filter by safety level (safe, moderate, dangerous, forbidden)")
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	entries, err := audit.Query(cfg.AuditLog.LogPath, audit.Filter{
		ActionType:  *actionType,
		SafetyLevel: pawn.SafetyLevel(*level),
		Limit:       *lines,
	})
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
