package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/protocol"
	"github.com/codeready-toolchain/chatstream/pkg/transport"
)

// commander is the engine surface the prompt loop drives.
type commander interface {
	SendMessage(ctx context.Context, content string) (string, error)
	Stop(ctx context.Context) (bool, error)
	Reconnect() bool
}

const (
	cmdStop      = "/stop"
	cmdReconnect = "/reconnect"
	cmdQuit      = "/quit"
	cmdHelp      = "/help"
)

const helpText = `Type a message and press enter to send it.
  /stop       stop the streaming response
  /reconnect  reconnect now, resetting the retry budget
  /quit       exit`

// replTimeout bounds how long one command waits for the engine.
const replTimeout = 5 * time.Second

// runREPL reads lines from in until EOF, /quit or ctx is done.
// Feedback that is not part of the streamed conversation goes to out.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, eng commander) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := handleLine(ctx, strings.TrimSpace(line), out, eng); quit {
				return nil
			}
		}
	}
}

// handleLine executes one input line and reports whether the loop should end.
func handleLine(ctx context.Context, line string, out io.Writer, eng commander) bool {
	if line == "" {
		return false
	}

	cmdCtx, cancel := context.WithTimeout(ctx, replTimeout)
	defer cancel()

	switch line {
	case cmdQuit:
		return true
	case cmdHelp:
		fmt.Fprintln(out, helpText)
	case cmdStop:
		stopped, err := eng.Stop(cmdCtx)
		switch {
		case err != nil:
			fmt.Fprintf(out, "! stop failed: %v\n", err)
		case !stopped:
			fmt.Fprintln(out, "! nothing to stop")
		}
	case cmdReconnect:
		if eng.Reconnect() {
			fmt.Fprintln(out, "* reconnecting")
		}
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "! unknown command %s (try %s)\n", line, cmdHelp)
			return false
		}
		if _, err := eng.SendMessage(cmdCtx, line); err != nil {
			fmt.Fprintf(out, "! %s\n", describeSendError(err))
		}
	}
	return false
}

func describeSendError(err error) string {
	switch {
	case errors.Is(err, conversation.ErrTurnInProgress):
		return "a response is still streaming; wait for it or type " + cmdStop
	case errors.Is(err, transport.ErrNotConnected):
		return "not connected; type " + cmdReconnect + " to retry now"
	case errors.Is(err, protocol.ErrEmptyMessage):
		return "message is empty"
	}
	return "send failed: " + err.Error()
}
