package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/cabinet/cmd/cabinet/console"
	"github.com/temoto/cabinet/cmd/cabinet/run"
	"github.com/temoto/cabinet/cmd/cabinet/subcmd"
	"github.com/temoto/cabinet/internal/state"
	"github.com/temoto/cabinet/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	{Name: "version", Main: func(ctx context.Context, config *state.Config) error {
		fmt.Printf("cabinet %s\n", BuildVersion)
		return nil
	}},
}

func main() {
	flagset := flag.NewFlagSet("cabinet", flag.ContinueOnError)
	flagConfig := flagset.String("config", "cabinet.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: cabinet [options] command\nOptions:\n")
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "Commands: run (default), console, version\n")
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	command := flagset.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}

	if subcmd.SdNotify(log, "start") || !isatty.IsTerminal(os.Stdout.Fd()) {
		// systemd journal or file, timestamp added by collector
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	gin.SetMode(gin.ReleaseMode)

	log.Infof("cabinet version=%s starting %s", BuildVersion, mod.Name)

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
