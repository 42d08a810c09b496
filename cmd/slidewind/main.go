// Command slidewind is an HTTP gateway that admits requests through per-key
// sliding window rate limiters.
//
// Usage:
//
//	slidewind serve --config slidewin.yaml
//	slidewind validate --config slidewin.yaml
//	slidewind version
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-hclog"

	"github.com/serroba/slidewin/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the rate limiting gateway."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"slidewin.yaml"`
	LogLevel string `help:"Log level override (trace, debug, info, warn, error)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}

	fmt.Printf("slidewind version %s\n", version)

	return nil
}

// ValidateCmd loads the configuration and reports problems.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}

	fmt.Printf("%s: ok\n", cli.Config)

	return nil
}

func newLogger(cfg config.LoggingConfig, override string) hclog.Logger {
	level := cfg.Level
	if override != "" {
		level = override
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "slidewind",
		Level:      hclog.LevelFromString(level),
		Output:     os.Stderr,
		JSONFormat: cfg.Format == "json",
	})
}

func main() {
	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("slidewind"),
		kong.Description("Sliding window rate limiting gateway."),
		kong.UsageOnError(),
	)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
