package main

import (
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	mbp "go.pickle.dev/core/mainboilerplate"
	"go.pickle.dev/core/sqlstore"
)

const iniFilename = "picklectl.ini"

// Config of picklectl, shared by all sub-commands.
var Config = new(struct {
	Store       sqlstore.Config       `group:"Store" namespace:"store" env-namespace:"STORE"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

// CommandRegistry of picklectl sub-commands, populated by init functions.
var CommandRegistry = mbp.NewCommandRegistry()

// stdout is written with command output. Tests replace it.
var stdout io.Writer = os.Stdout

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)

	parser.LongDescription = `picklectl inspects and modifies pickle stores: durable queues and maps
persisted to an SQLite database within a store directory.

See --help pages of each sub-command for documentation and usage examples.
Optionally configure picklectl with a '` + iniFilename + `' file in the current working directory,
or with '~/.config/pickle/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
the tool's current configuration.
`
	mbp.Must(CommandRegistry.AddCommands("", parser.Command), "could not add subcommand")
	mbp.MustParseConfig(parser, iniFilename)
}

// startup initializes logging and diagnostics. The returned closure is
// deferred by the calling command.
func startup() func() {
	mbp.InitLog(Config.Log)
	return mbp.InitDiagnosticsAndRecover(Config.Diagnostics)
}
