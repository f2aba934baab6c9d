package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"crosschain-router/internal/intent"
	"crosschain-router/internal/session"
)

// Chat runs an interactive session over in/out until EOF or "exit".
func (a *App) Chat(ctx context.Context, opts ChatOptions, in io.Reader, out io.Writer) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	id := opts.SessionID
	if id == "" {
		id = "cli-" + uuid.NewString()
	}
	fmt.Fprintf(out, "session %s (type exit to quit)\n", id)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		reply, err := a.chatTurn(ctx, rt, id, opts.Wallet, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
	}
	return scanner.Err()
}

func (a *App) chatTurn(ctx context.Context, rt *runtime, sessionID, wallet, text string) (string, error) {
	ic := intent.Context{Wallet: wallet, HomeNetwork: rt.home}
	sess, err := rt.machine.Session(ctx, sessionID)
	switch {
	case err == nil:
		ic.AwaitingConfirmation = sess.State == session.StateAwaitingConfirmation
	case !errors.Is(err, session.ErrNotFound):
		return "", err
	}

	in, err := rt.resolver.Parse(ctx, text, ic)
	if err != nil {
		return "Sorry, I could not interpret that: " + err.Error(), nil
	}
	if in.Text == "" {
		in.Text = text
	}
	resp, err := rt.machine.Handle(ctx, sessionID, in)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", resp.State, resp.Message), nil
}
