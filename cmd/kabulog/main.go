// Command kabulog is the command line client of the kabulog API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"time"

	"github.com/google/subcommands"

	"kabulog/internal/config"
	"kabulog/internal/logging"
	"kabulog/pkg/client"
	"kabulog/pkg/cooldown"
)

var (
	configPath = flag.String("config", "", "Path to kabulog.toml (default: user config dir, then ./kabulog.toml)")
	apiURL     = flag.String("api", "", "API server URL (overrides client.api_url)")
	verbose    = flag.Bool("v", false, "Log debug output to stderr")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	register(commander)

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}

// register adds the kabulog subcommands.
func register(c *subcommands.Commander) {
	c.Register(&stocksCmd{}, "portfolio")
	c.Register(&analysisCmd{}, "portfolio")
	c.Register(&historyCmd{}, "portfolio")
	c.Register(&snapshotCmd{}, "portfolio")

	c.Register(&addCmd{}, "assets")
	c.Register(&holdCmd{}, "assets")

	c.Register(&rulesCmd{}, "status")
	c.Register(&cooldownCmd{}, "status")
}

// newClient loads the configuration and builds an API client whose
// cooldown state is shared by every kabulog invocation.
func newClient() (*client.Client, error) {
	var paths []string
	if *configPath != "" {
		paths = []string{*configPath}
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, err
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, _, err := logging.NewLogger(logging.Options{Level: level, Format: cfg.Logging.Format, Stdout: os.Stderr})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	state, err := cfg.ClientStateFile()
	if err != nil {
		return nil, fmt.Errorf("resolve client state file: %w", err)
	}
	base := cfg.Client.APIURL
	if *apiURL != "" {
		base = *apiURL
	}
	return client.New(client.Options{
		BaseURL:   base,
		StateFile: state,
		Window:    cfg.Cooldown.GetClientWindow(),
		Logger:    logger,
		OnCountdown: func(_ string, wait time.Duration) {
			fmt.Fprintln(os.Stderr, cooldown.WaitMessage(wait))
		},
	}), nil
}

// failure reports err and returns the exit status for it. The wait of a
// refusal has already been printed by the countdown callback.
func failure(action string, err error) subcommands.ExitStatus {
	if errors.Is(err, cooldown.ErrFetchRefused) {
		fmt.Fprintln(os.Stderr, "Use -wait to block until the data is fetched.")
		return subcommands.ExitFailure
	}
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", action, err)
	return subcommands.ExitFailure
}
