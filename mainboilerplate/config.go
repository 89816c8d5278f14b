package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Version and BuildDate of the program, set at build time via -ldflags "-X".
var (
	Version   = "development"
	BuildDate = "unknown"
)

// ConfigDirs returns the directories searched for an INI config file, in order.
func ConfigDirs() []string {
	return []string{
		".",
		filepath.Join(os.Getenv("HOME"), ".config", "pickle"),
		filepath.Join(os.Getenv("UserProfile"), ".config", "pickle"),
	}
}

// MustParseConfig requires that the Parser parse from the combination of an
// optional INI file, configured environment bindings, and explicit flags.
// The first INI file named |configName| within ConfigDirs is used.
func MustParseConfig(parser *flags.Parser, configName string) {
	if err := ParseConfigFile(parser, configName, ConfigDirs()...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	MustParseArgs(parser)
}

// ParseConfigFile parses the first INI file named |configName| found within
// |dirs| into the Parser. Options which are unknown to the Parser are ignored.
// A missing file is not an error.
func ParseConfigFile(parser *flags.Parser, configName string, dirs ...string) error {
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown
	defer func() { parser.Options = origOptions }()

	var ini = flags.NewIniParser(parser)

	for _, dir := range dirs {
		var path = filepath.Join(dir, configName)

		if err := ini.ParseFile(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// The parsed configuration struct is itself malformed.
		panic(err)

	case flags.ErrCommandRequired, flags.ErrHelp:
		if flagErr.Type == flags.ErrCommandRequired || parser.Options&flags.PrintErrors == 0 {
			os.Stderr.WriteString("\n")
			parser.WriteHelp(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		os.Exit(1)

	default:
		// go-flags has already printed a description of the input error.
		os.Exit(1)
	}
}

// AddPrintConfigCmd to the Parser. The "print-config" command writes the
// combined configuration of |configName|, environment, and flags to stdout
// in INI format, so that users may check how a program is configured.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, _ = parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	var ini = flags.NewIniParser(p.Parser)
	ini.Write(os.Stdout, flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
