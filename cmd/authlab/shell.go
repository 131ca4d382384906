package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/httpapi"
)

const shellHelp = `commands:
  me            show the signed-in identity
  enroll        create a pending TOTP secret
  qr FILE       write the pending secret's QR code as PNG
  activate      confirm the pending secret with a code
  cancel        abandon the pending secret
  sessions      list live sessions
  logout        end this session
  logout-all    end every other session of this identity
  help | quit`

func login(ctx context.Context, client *httpapi.Client, t *terminal) error {
	flow := authlab.NewFlow(client)

	for flow.State() == authlab.StateLogin {
		username, err := t.prompt("username: ")
		if err != nil {
			return err
		}
		password, err := t.promptSecret("password: ")
		if err != nil {
			return err
		}
		if _, err := flow.SubmitCredentials(ctx, username, password); err != nil {
			if authlab.IsUpstream(err) {
				return describe(err)
			}
			t.printf("%v\n", describe(err))
			continue
		}

		for flow.State() == authlab.StateTwoFactor {
			code, err := t.prompt("code: ")
			if err != nil {
				return err
			}
			if _, err := flow.SubmitCode(ctx, code); err != nil {
				t.printf("%v\n", describe(err))
				if authlab.IsUpstream(err) {
					return err
				}
			}
		}
	}

	t.printf("signed in. type help for commands.\n")
	return shell(ctx, client, flow, t)
}

func shell(ctx context.Context, client *httpapi.Client, flow *authlab.Flow, t *terminal) error {
	for {
		if flow.State() == authlab.StateLogin {
			t.printf("signed out.\n")
			return nil
		}

		line, err := t.prompt(fmt.Sprintf("%s> ", strings.ToLower(flow.State().String())))
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if err := dispatch(ctx, client, flow, t, fields); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			t.printf("%v\n", describe(err))
		}
	}
}

var errQuit = errors.New("quit")

func dispatch(ctx context.Context, client *httpapi.Client, flow *authlab.Flow, t *terminal, fields []string) error {
	token, _ := flow.SessionToken()

	switch fields[0] {
	case "help":
		t.printf("%s\n", shellHelp)
	case "quit", "exit":
		return errQuit
	case "me":
		p, err := client.Me(ctx, token)
		if err != nil {
			return err
		}
		t.printf("%s id=%s two_factor=%t expires=%s\n", p.Username, p.IdentityID, p.TwoFactor, p.ExpiresAt.Format(time.RFC3339))
	case "enroll":
		setup, err := flow.RequestEnrollment(ctx)
		if err != nil {
			return err
		}
		t.printf("secret: %s\nuri:    %s\n", setup.Secret, setup.URI)
	case "qr":
		if len(fields) != 2 {
			return errors.New("usage: qr FILE")
		}
		png, err := client.TOTPQR(ctx, token)
		if err != nil {
			return err
		}
		if err := os.WriteFile(fields[1], png, 0o600); err != nil {
			return err
		}
		t.printf("wrote %s\n", fields[1])
	case "activate":
		code, err := t.prompt("code: ")
		if err != nil {
			return err
		}
		if err := flow.ActivateEnrollment(ctx, code); err != nil {
			return err
		}
		t.printf("two-factor authentication enabled\n")
	case "cancel":
		return flow.CancelEnrollment()
	case "sessions":
		sessions, err := client.ListSessions(ctx, token)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			marker := " "
			if s.Current {
				marker = "*"
			}
			t.printf("%s %s two_factor=%t created=%s\n", marker, s.SessionID, s.TwoFactor, s.CreatedAt.Format(time.RFC3339))
		}
	case "logout":
		return flow.Logout(ctx)
	case "logout-all":
		n, err := client.LogoutAll(ctx, token)
		if err != nil {
			return err
		}
		t.printf("revoked %d other sessions\n", n)
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}

// describe turns an error kind into a one-line user message.
func describe(err error) error {
	switch {
	case errors.Is(err, authlab.ErrInvalidCredentials):
		return errors.New("invalid username or password")
	case errors.Is(err, authlab.ErrCodeInvalid):
		return errors.New("that code is not valid, try again")
	case errors.Is(err, authlab.ErrCodeReplayed):
		return errors.New("that code was already used, wait for the next one")
	case errors.Is(err, authlab.ErrTooManyAttempts):
		return errors.New("too many attempts, sign in again")
	case errors.Is(err, authlab.ErrTokenExpired):
		return errors.New("the login took too long, sign in again")
	case errors.Is(err, authlab.ErrTokenAlreadyUsed), errors.Is(err, authlab.ErrTokenInvalid):
		return errors.New("this login is no longer valid, sign in again")
	case errors.Is(err, authlab.ErrInvalidState):
		return errors.New("not available right now")
	case authlab.IsUpstream(err):
		return errors.New("the server is unavailable, try again later")
	default:
		return err
	}
}
