package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/eduplay/voiceroom/internal/turn"
)

// controls is the part of the session the console drives.
type controls interface {
	Submit(text string)
	SetMuted(muted bool) error
	SetVideoEnabled(on bool) error
	SetSoundEnabled(on bool) error
	End()
}

const consoleHelp = `commands:
  /mute, /unmute      toggle the microphone
  /video on|off       toggle the camera
  /sound on|off       toggle spoken replies
  /quit               hang up
anything else is sent as a typed message`

// runConsole reads commands and typed messages from in until EOF, /quit or
// ctx cancellation. It returns after the session was told to hang up.
func runConsole(ctx context.Context, c controls, in io.Reader, out io.Writer) {
	lines := make(chan string)
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
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				c.End()
				return
			}
			if quit := handleLine(c, strings.TrimSpace(line), out); quit {
				c.End()
				return
			}
		}
	}
}

func handleLine(c controls, line string, out io.Writer) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.Submit(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	var err error
	switch strings.ToLower(cmd) {
	case "/quit", "/q":
		return true
	case "/mute":
		err = c.SetMuted(true)
	case "/unmute":
		err = c.SetMuted(false)
	case "/video":
		var on bool
		if on, err = parseSwitch(arg); err == nil {
			err = c.SetVideoEnabled(on)
		}
	case "/sound":
		var on bool
		if on, err = parseSwitch(arg); err == nil {
			err = c.SetSoundEnabled(on)
		}
	case "/help":
		fmt.Fprintln(out, consoleHelp)
	default:
		err = fmt.Errorf("unknown command %q, try /help", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "[error] %v\n", err)
	}
	return false
}

func parseSwitch(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

// printUpdates writes the conversation and state changes to out until
// updates is closed.
func printUpdates(updates <-chan turn.Update, agent string, out io.Writer) {
	last := turn.State(-1)
	for u := range updates {
		switch {
		case u.Transcript != nil:
			who := "you"
			if u.Transcript.Sender == turn.SenderAgent {
				who = agent
			}
			fmt.Fprintf(out, "%s: %s\n", who, u.Transcript.Text)
		case u.Err != nil:
			fmt.Fprintf(out, "[notice] %v\n", u.Err)
		case u.State != last:
			fmt.Fprintf(out, "[%s]\n", u.State)
		}
		last = u.State
	}
}
