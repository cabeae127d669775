// Package render projects the conversation read model onto a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/supervisor"
)

// Console prints streamed conversation updates as they arrive. It prints
// only what changed since the previous snapshot, so repeated snapshots of
// the same state print nothing.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	agentColor  *color.Color
	statusColor *color.Color
	okColor     *color.Color
	warnColor   *color.Color
	errColor    *color.Color
	dimColor    *color.Color

	turnID     string
	agents     map[string]*agentView
	artifacts  map[string]bool
	turnClosed bool
	lastState  supervisor.State
}

type agentView struct {
	printed int
	status  string
	failed  bool
}

// NewConsole creates a Console writing to out. With noColor set, output
// contains no escape sequences.
func NewConsole(out io.Writer, noColor bool) *Console {
	c := &Console{
		out:         out,
		agentColor:  color.New(color.FgCyan, color.Bold),
		statusColor: color.New(color.FgYellow),
		okColor:     color.New(color.FgGreen),
		warnColor:   color.New(color.FgYellow, color.Bold),
		errColor:    color.New(color.FgRed, color.Bold),
		dimColor:    color.New(color.Faint),
	}
	if noColor {
		for _, col := range []*color.Color{c.agentColor, c.statusColor, c.okColor, c.warnColor, c.errColor, c.dimColor} {
			col.DisableColor()
		}
	}
	c.reset("")
	return c
}

// TurnChanged prints the difference between t and what was already shown.
func (c *Console) TurnChanged(t conversation.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.ID != c.turnID {
		c.reset(t.ID)
		c.dimColor.Fprintf(c.out, "--- turn %s ---\n", shortID(t.ID))
	}

	for _, a := range t.Agents {
		view, ok := c.agents[a.Name]
		if !ok {
			view = &agentView{}
			c.agents[a.Name] = view
		}

		if a.Phase == conversation.PhaseThinking && a.StatusText != "" && a.StatusText != view.status {
			c.agentColor.Fprintf(c.out, "[%s] ", a.Name)
			c.statusColor.Fprintf(c.out, "%s...\n", a.StatusText)
		}
		view.status = a.StatusText

		if len(a.Text) > view.printed {
			c.agentColor.Fprintf(c.out, "[%s] ", a.Name)
			fmt.Fprintln(c.out, strings.TrimLeft(a.Text[view.printed:], " "))
			view.printed = len(a.Text)
		}

		if a.Phase == conversation.PhaseErrored && !view.failed {
			view.failed = true
			c.agentColor.Fprintf(c.out, "[%s] ", a.Name)
			c.errColor.Fprintf(c.out, "error: %s\n", a.Error)
		}

		for _, art := range a.Artifacts {
			if c.artifacts[art.ID] {
				continue
			}
			c.artifacts[art.ID] = true
			c.agentColor.Fprintf(c.out, "[%s] ", a.Name)
			c.dimColor.Fprintf(c.out, "streaming %s %q\n", art.Kind, art.Title)
		}
	}

	if t.Status.IsTerminal() && !c.turnClosed {
		c.turnClosed = true
		switch t.Status {
		case conversation.TurnCompleted:
			c.okColor.Fprintln(c.out, "done")
		case conversation.TurnCancelled:
			c.warnColor.Fprintln(c.out, "stopped")
		case conversation.TurnErrored:
			c.errColor.Fprintf(c.out, "failed: %s\n", t.Error)
		}
	}
}

// ArtifactFinalized prints the complete artifact in a fenced block.
func (c *Console) ArtifactFinalized(_ string, a conversation.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := fmt.Sprintf("%s: %s", a.Kind, a.Title)
	if a.Language != "" {
		header += " (" + a.Language + ")"
	}
	c.okColor.Fprintf(c.out, "=== %s ===\n", header)
	fmt.Fprint(c.out, a.Content)
	if !strings.HasSuffix(a.Content, "\n") {
		fmt.Fprintln(c.out)
	}
	c.okColor.Fprintln(c.out, "===")
}

// ConnectionChanged prints connection state transitions.
func (c *Console) ConnectionChanged(st supervisor.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st.State == c.lastState {
		return
	}
	c.lastState = st.State

	switch st.State {
	case supervisor.StateConnected:
		c.okColor.Fprintln(c.out, "* connected")
	case supervisor.StateDisconnected:
		if st.LastError != "" {
			c.warnColor.Fprintf(c.out, "* disconnected (attempt %d): %s\n", st.Attempt, st.LastError)
			return
		}
		c.warnColor.Fprintln(c.out, "* disconnected")
	case supervisor.StateErrored:
		c.errColor.Fprintf(c.out, "* gave up after %d attempts: %s (type /reconnect to retry)\n", st.Attempt, st.LastError)
	}
}

func (c *Console) reset(turnID string) {
	c.turnID = turnID
	c.agents = make(map[string]*agentView)
	c.artifacts = make(map[string]bool)
	c.turnClosed = false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
