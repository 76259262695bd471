package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/m4xw311/thinkact/agent"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/steplog"
)

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	base    agent.Config
	session *session.Session
	cancels *agent.Cancellations

	In  io.Reader
	Out io.Writer
	// Verbose prints actions and observations as well as thoughts.
	Verbose bool

	newID  func() string
	notify func(chan<- os.Signal)
	stop   func(chan<- os.Signal)
}

// New creates a Terminal that runs one agent per line of input. base is
// copied for every query; its Canceller is replaced so Ctrl-C can cancel
// the running request.
func New(base agent.Config, sess *session.Session) *Terminal {
	return &Terminal{
		base:    base,
		session: sess,
		cancels: agent.NewCancellations(),
		In:      os.Stdin,
		Out:     os.Stdout,
		newID:   uuid.NewString,
		notify:  func(c chan<- os.Signal) { signal.Notify(c, os.Interrupt) },
		stop:    signal.Stop,
	}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if _, err := t.Ask(ctx, initialPrompt); err != nil && !errors.Is(err, agent.ErrCancelled) {
			return err
		}
	}

	scanner := bufio.NewScanner(t.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(t.Out, "You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session
			fmt.Fprintln(t.Out)
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if _, err := t.Ask(ctx, userInput); err != nil && !errors.Is(err, agent.ErrCancelled) {
			fmt.Fprintf(t.Out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

// Ask answers one user input and records the exchange in the session.
func (t *Terminal) Ask(ctx context.Context, userInput string) (agent.Result, error) {
	requestID := t.newID()
	cfg := t.base
	cfg.Canceller = t.cancels
	cfg.Steps = steplog.Multi{t.base.Steps, agent.StepFunc(t.printStep)}
	a, err := agent.New(cfg)
	if err != nil {
		return agent.Result{}, err
	}

	t.session.AddMessage(session.NewMessage(session.RoleUser, userInput))

	interrupts := make(chan os.Signal, 1)
	done := make(chan struct{})
	t.notify(interrupts)
	go func() {
		select {
		case <-interrupts:
			fmt.Fprintln(t.Out, "\nCancelling...")
			t.cancels.Cancel(requestID)
		case <-done:
		}
	}()
	defer func() {
		t.stop(interrupts)
		close(done)
		t.cancels.Forget(requestID)
	}()

	res, err := a.Query(ctx, requestID, t.session.History())
	if err != nil {
		if errors.Is(err, agent.ErrCancelled) {
			fmt.Fprintln(t.Out, "Request cancelled.")
		}
		return res, err
	}

	fmt.Fprintf(t.Out, "Thinkact: %s\n", res.Answer)
	t.session.AddMessage(session.NewMessage(session.RoleAssistant, res.Answer))
	if err := t.session.Save(); err != nil {
		fmt.Fprintf(t.Out, "Warning: failed to save session: %v\n", err)
	}
	return res, nil
}

func (t *Terminal) printStep(_ context.Context, step agent.Step) error {
	switch step.Type {
	case agent.StepThought:
		fmt.Fprintf(t.Out, "Thought: %s\n", step.Content)
	case agent.StepAction:
		if t.Verbose {
			fmt.Fprintf(t.Out, "Thinkact wants to call action `%s` with args: %v\n", step.ActionName, step.ActionParams)
		} else {
			fmt.Fprintf(t.Out, "Thinkact calls action `%s`\n", step.ActionName)
		}
	case agent.StepObservation:
		if t.Verbose {
			fmt.Fprintf(t.Out, "Action `%s` output: %s\n", step.ActionName, step.Content)
		}
	}
	return nil
}
