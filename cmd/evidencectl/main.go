// Command evidencectl is the operator CLI of the evidence vault.
//
// Usage:
//
//	evidencectl [-config vault.yaml] <command> [flags]
//
// Configuration is read from the YAML file and EVIDENCE_VAULT_* environment
// variables. Results are printed as JSON on stdout; logs go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/config"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// Exit codes
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitIntegrity = 3
)

var errUsage = errors.New("usage error")

type command struct {
	name    string
	summary string
	// offline commands do not need a vault key or a store
	offline bool
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "store", summary: "encrypt and store an artifact", run: runStore},
	{name: "retrieve", summary: "decrypt an artifact and record a RETRIEVE custody entry", run: runRetrieve},
	{name: "meta", summary: "print the metadata record of an artifact", run: runMeta},
	{name: "custody", summary: "print the chain of custody of an artifact", run: runCustody},
	{name: "add-custody", summary: "append a custody event", run: runAddCustody},
	{name: "search", summary: "search artifacts by type, case, source, tag and time range", run: runSearch},
	{name: "verify", summary: "verify the custody chain of an artifact", run: runVerify},
	{name: "sweep", summary: "verify the custody chain of every matching artifact", run: runSweep},
	{name: "audit", summary: "query audit events (requires audit.mongo_uri)", run: runAudit},
	{name: "keygen", summary: "generate a new random vault key", offline: true, run: runKeygen},
	{name: "wrap-key", summary: "wrap a vault key with the configured KMS provider", offline: true, run: runWrapKey},
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("evidencectl", flag.ContinueOnError)
	configPath := global.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML configuration file")
	global.Usage = usage
	if err := global.Parse(args); err != nil {
		return exitUsage
	}
	if global.NArg() == 0 {
		usage()
		return exitUsage
	}

	name := global.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		return exitUsage
	}

	cfg, errs := config.Load(*configPath)
	if cfg != nil {
		setupLogging(cfg)
	}
	if cmd.offline {
		errs = withoutKeyErrors(errs)
	}
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg}
	if !cmd.offline {
		var err error
		if a, err = newApp(ctx, cfg); err != nil {
			log.Error().Err(err).Msg("Failed to initialize evidence vault")
			return exitError
		}
		defer a.Close()
	}
	return exitCode(cmd.run(ctx, a, global.Args()[1:]))
}

// withoutKeyErrors drops the key requirement for commands that produce keys
func withoutKeyErrors(errs []error) []error {
	var out []error
	for _, err := range errs {
		if errors.Is(err, config.ErrMissingKey) || errors.Is(err, config.ErrConflictingKey) {
			continue
		}
		out = append(out, err)
	}
	return out
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		return exitUsage
	case types.IsSecurityIncident(err):
		log.Error().Err(err).Msg("Integrity violation")
		return exitIntegrity
	default:
		log.Error().Err(err).Int("httpStatus", types.HTTPStatus(err)).Msg("Command failed")
		return exitError
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: evidencectl [-config file] <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'evidencectl <command> -h' for command flags.\n")
}
