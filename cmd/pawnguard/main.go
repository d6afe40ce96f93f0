// Package main provides the pawnguard CLI entry point.
//
// pawnguard is the policy-and-isolation core for an autonomous agent
// runtime: it gates every tool invocation an agent issues through the
// Guardian pipeline before it is allowed to touch the outside world.
//
// Usage:
//
//	pawnguard start [--config path]
//	pawnguard status [--config path]
//	pawnguard logs [--lines N] [--type T] [--level L] [--config path]
//	pawnguard config [--show|--validate path] [--config path]
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(args, logger)
	case "status":
		err = runStatus(args, logger)
	case "logs":
		err = runLogs(args)
	case "config":
		err = runConfigCmd(args)
	case "version":
		fmt.Println(version)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "pawnguard: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "pawnguard: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `pawnguard - policy-and-isolation core for autonomous agent runtimes

Usage:
  pawnguard start [--config path]
  pawnguard status [--config path]
  pawnguard logs [--lines N] [--type type] [--level level] [--config path]
  pawnguard config [--show|--validate path] [--config path]
  pawnguard version`)
}

func defaultConfigPath() string {
	if v := os.Getenv("PAWNGUARD_CONFIG"); v != "" {
		return v
	}
	return "pawnguard.yaml"
}
