package terminal

// commandGroup decides under which heading help lists a command.
// Commands registered at run time, like starlark commands, are listed
// under otherCmds.
type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	watchCmds
	sessionCmds
)

var commandGroupDescriptions = []struct {
	description string
	group       commandGroup
}{
	{"Placing and removing breakpoints", breakCmds},
	{"Sharing hardware watchpoints", watchCmds},
	{"Inspecting and scripting the agent session", sessionCmds},
	{"Other commands", otherCmds},
}

// inGroup returns the commands listed under g, in definition order.
func (c *Commands) inGroup(g commandGroup) []command {
	var r []command
	for _, cmd := range c.cmds {
		if cmd.group == g {
			r = append(r, cmd)
		}
	}
	return r
}
