// autopause - inject a key press when a monitored device disconnects
//
//	autopause                 Interactive menu (pick a device, listen)
//	autopause scan <category> List connected devices (monitors, usb, com)
//	autopause history         Show recently fired triggers
//	autopause version         Print the version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autopause/internal/config"
	"autopause/internal/device"
	"autopause/internal/journal"
	"autopause/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const banner = `
   __ _ _   _| |_ ___  _ __   __ _ _   _ ___  ___
  / _' | | | | __/ _ \| '_ \ / _' | | | / __|/ _ \
 | (_| | |_| | || (_) | |_) | (_| | |_| \__ \  __/
  \__,_|\__,_|\__\___/| .__/ \__,_|\__,_|___/\___|
                      |_|`

func main() {
	configPath := flag.String("config", "", "configuration file (default: "+config.ConfigPath()+")")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "", "menu":
		cmdMenu(*configPath, *logLevel)
	case "scan":
		cmdScan(*configPath, *logLevel, args)
	case "history":
		cmdHistory(*configPath, *logLevel, args)
	case "version":
		fmt.Printf("autopause %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`autopause - pause playback when a device disconnects

USAGE:
    autopause [-config path] [-log-level level] [command]

COMMANDS:
    (none)              Interactive menu
    scan <category>     List connected devices (monitors, usb, com)
    history [-n N]      Show the most recent triggers
    version             Print the version
    help                Show this help message

WHILE LISTENING:
    Backspace           Stop and return to the device list
    F1                  Stop and return to the main menu

ENVIRONMENT:
    AUTOPAUSE_DATA_DIR        Data directory
    AUTOPAUSE_TRIGGER_KEY     Injected key (escape, space, media_playpause, ...)
    AUTOPAUSE_FORCE_POLLING   Skip event subscriptions (true/false)
    AUTOPAUSE_DEBOUNCE_MS     Trigger cooldown in milliseconds
    AUTOPAUSE_LOG_LEVEL       Log level`)
}

// loadConfig loads and validates the configuration, returning the loader so
// the caller can watch for changes.
func loadConfig(path, logLevel string) (*config.Loader, *config.Config) {
	loader := config.NewLoader(path)
	if logLevel != "" {
		os.Setenv("AUTOPAUSE_LOG_LEVEL", logLevel)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", loader.Path(), err)
		os.Exit(1)
	}
	return loader, cfg
}

func setupLogger(cfg *config.Config) *logging.Logger {
	lc, err := cfg.LoggerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(lc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	return logger
}

func cmdMenu(configPath, logLevel string) {
	loader, cfg := loadConfig(configPath, logLevel)
	defer loader.Close()
	logger := setupLogger(cfg)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.watchConfig(loader)

	menu := NewMenu(a)
	menu.Run(ctx)
}

func cmdScan(configPath, logLevel string, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: autopause scan <monitors|usb|com>")
		os.Exit(1)
	}
	category, err := device.ParseCategory(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	_, cfg := loadConfig(configPath, logLevel)
	logger := setupLogger(cfg)
	defer logger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scanner := newScanner(logger)
	names := scanner.Scan(ctx, category)

	fmt.Printf("=== %s ===\n", category)
	if len(names) == 0 {
		fmt.Println("No devices found.")
		return
	}
	for i, name := range names {
		fmt.Printf("[%d] %s\n", i+1, name)
	}
}

func cmdHistory(configPath, logLevel string, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of entries")
	fs.Parse(args)

	_, cfg := loadConfig(configPath, logLevel)
	logger := setupLogger(cfg)
	defer logger.Close()

	if !cfg.Journal.Enabled {
		fmt.Fprintln(os.Stderr, "The trigger journal is disabled in the configuration.")
		os.Exit(1)
	}

	j, err := journal.Open(cfg.Journal.Path, logger.Component("journal"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	ctx := context.Background()
	entries, err := j.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
		os.Exit(1)
	}
	total, err := j.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Trigger History (%d of %d) ===\n", len(entries), total)
	if len(entries) == 0 {
		fmt.Println("No triggers recorded yet.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %-40s  %s", e.Time.Format("2006-01-02 15:04:05"), e.Device, e.Key)
		if e.Error != "" {
			fmt.Printf("  error: %s", e.Error)
		}
		fmt.Println()
	}
}
