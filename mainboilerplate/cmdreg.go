package mainboilerplate

import (
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// CommandRegistry collects go-flags sub-commands by the dotted path of their
// parent command, so that a command tree may be declared piecewise (eg, from
// the init functions of several files) and built all at once.
//
//	reg.AddCommand("", "queue", "Operate on a queue", "", &struct{}{})
//	reg.AddCommand("queue", "push", "Push payloads", "", &cmdQueuePush{})
type CommandRegistry map[string][]command

type command struct {
	name, short, long string
	data              interface{}
}

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry { return make(CommandRegistry) }

// AddCommand registers a command |name| under the command at path |parent|.
// The root command has the empty path.
func (cr CommandRegistry) AddCommand(parent, name, short, long string, data interface{}) {
	cr[parent] = append(cr[parent], command{name: name, short: short, long: long, data: data})
}

// AddCommands adds the commands registered under |path| to |cmd|, and then
// recursively adds commands registered under each of those. It fails if a
// command of the same name already exists.
func (cr CommandRegistry) AddCommands(path string, cmd *flags.Command) error {
	for _, c := range cr[path] {
		if cmd.Find(c.name) != nil {
			return errors.Errorf("command %q is already defined under %q", c.name, cmd.Name)
		}
		var child, err = cmd.AddCommand(c.name, c.short, c.long, c.data)
		if err != nil {
			return errors.WithMessagef(err, "adding command %q", c.name)
		}

		var childPath = c.name
		if path != "" {
			childPath = path + "." + c.name
		}
		if err = cr.AddCommands(childPath, child); err != nil {
			return err
		}
	}
	return nil
}
