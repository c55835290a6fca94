// ABOUTME: Parses chat input lines into commands and addressed messages
// ABOUTME: A leading @agent picks the target; slash commands control the session

package tui

import (
	"strings"

	"github.com/2389/coven-groups/internal/mention"
)

type commandKind int

const (
	cmdSend commandKind = iota
	cmdQuit
	cmdStop
	cmdRefresh
	cmdTarget
	cmdHelp
	cmdUnknown
)

type command struct {
	kind    commandKind
	agent   string
	content string
}

// parseInput interprets a submitted line. A message starting with @agent is
// addressed to that agent with the mention stripped, since the backend adds
// it back. Otherwise the current target receives it.
func parseInput(line, target string) command {
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "/") {
		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "/quit", "/exit", "/q":
			return command{kind: cmdQuit}
		case "/stop":
			return command{kind: cmdStop}
		case "/refresh":
			return command{kind: cmdRefresh}
		case "/agent", "/to":
			return command{kind: cmdTarget, agent: strings.TrimPrefix(arg, "@")}
		case "/help":
			return command{kind: cmdHelp}
		default:
			return command{kind: cmdUnknown, content: name}
		}
	}

	if strings.HasPrefix(line, "@") {
		res := mention.Scan(line)
		if res.IsAgent() && strings.HasPrefix(line, "@"+res.Name) {
			rest := strings.TrimSpace(strings.TrimPrefix(line, "@"+res.Name))
			return command{kind: cmdSend, agent: res.Name, content: rest}
		}
	}

	return command{kind: cmdSend, agent: target, content: line}
}

const helpText = "@agent msg sends to an agent, /agent <key> sets the default target, /stop halts the chain, /refresh reloads, /quit exits"
