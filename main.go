// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"

	"github.com/clearline/agentvoice/internal/app"
	"github.com/clearline/agentvoice/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	cfgFlag  = flag.String("config", "", "Path to config file (default: <dir>/agentvoice.json)")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("agentvoice v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	dir := "."
	if args := flag.Args(); len(args) > 0 {
		dir = args[0]
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		log.Fatalf("Invalid console directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Console directory does not exist: %s", absDir)
	}

	cfgPath := *cfgFlag
	if cfgPath == "" {
		cfgPath = filepath.Join(absDir, "agentvoice.json")
	}
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s", cfgPath)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		BaseDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Console failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("agentvoice - Agent Voice Console")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  agentvoice [directory]")
	fmt.Println()
	fmt.Println("Runs the voice console from the given directory (default: current).")
	fmt.Println("The directory holds agentvoice.json and the call history database;")
	fmt.Println("a default config is created on first run.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config <path>  Use an explicit config file")
	fmt.Println("  -h              Show this help message")
	fmt.Println("  -version        Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Run from the current directory")
	fmt.Println("  agentvoice")
	fmt.Println()
	fmt.Println("  # Run a dedicated console directory")
	fmt.Println("  agentvoice ./consoles/desk-12")
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                 Agent Voice Console                    ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Console Directory: %s\n", dir)
	fmt.Printf("Config File:       %s\n", cfgPath)
	fmt.Printf("Signaling Server:  %s\n", cfg.Signaling.URL)
	fmt.Printf("Console API:       http://%s\n", cfg.HTTP.Addr)
	fmt.Println()
	fmt.Println("Starting console... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
