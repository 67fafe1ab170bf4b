// Command stockdesk runs the local stock-information desk: a loopback
// invoke service for the presentation layer plus a few one-shot commands.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var configPath = flag.String("config", "", "path to an optional YAML config file")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

var commands = []subcommands.Command{
	&serveCmd{},
	&loginCmd{},
	&refreshCmd{},
	&searchCmd{},
	&queryCmd{},
	&endpointsCmd{},
}
