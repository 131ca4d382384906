// Command authlab is a terminal client for authlab-server.
//
//	authlab -server http://127.0.0.1:8080 signup
//	authlab -server http://127.0.0.1:8080 login
//
// After login it opens a small shell for enrollment and session commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/ksm067300-arch/auth-lab/httpapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t := &terminal{in: bufio.NewReader(os.Stdin), out: os.Stdout, fd: int(os.Stdin.Fd())}
	if err := run(ctx, os.Args[1:], t); err != nil {
		fmt.Fprintf(os.Stderr, "authlab: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, t *terminal) error {
	fs := flag.NewFlagSet("authlab", flag.ContinueOnError)
	fs.SetOutput(t.out)
	server := fs.String("server", envOr("AUTHLAB_SERVER", "http://127.0.0.1:8080"), "server base URL")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: authlab [-server URL] signup|login")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := httpapi.NewClient(*server)
	if err != nil {
		return err
	}

	switch fs.Arg(0) {
	case "signup":
		return signup(ctx, client, t)
	case "login":
		return login(ctx, client, t)
	default:
		fs.Usage()
		return errors.New("unknown command")
	}
}

func signup(ctx context.Context, client *httpapi.Client, t *terminal) error {
	username, err := t.prompt("username: ")
	if err != nil {
		return err
	}
	password, err := t.promptSecret("password: ")
	if err != nil {
		return err
	}
	ident, err := client.Register(ctx, username, password)
	if err != nil {
		return describe(err)
	}
	t.printf("created %s (%s)\n", ident.Username, ident.ID)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
