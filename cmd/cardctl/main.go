// Package main is cardctl, a terminal client for the collab-card backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/session"
)

const usage = `usage: cardctl [-server URL] [-token-file PATH] [-v] <command> [flags]

commands:
  login -email E -password P   sign in and keep the token
  logout                       forget the token
  whoami                       show the signed-in identity
  companies                    list companies
  users                        list users
  batches [-company ID]        list pending batches
  records -batch ID            list the cards of a batch
  upload-xlsx -file F          submit a spreadsheet of collaborators
  upload-cards -batch ID F...  submit generated card images
  watch -batch ID              follow a batch until every card settled
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Getenv); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run parses the global flags and dispatches the command.
func run(ctx context.Context, args []string, out io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("cardctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	server := fs.String("server", getenv("CARDCTL_SERVER"), "backend base URL")
	tokenFile := fs.String("token-file", getenv("CARDCTL_TOKEN_FILE"), "where the token is kept")
	verbose := fs.Bool("v", false, "log requests to stderr")
	timeout := fs.Duration("timeout", 30*time.Second, "per-request timeout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	if *server == "" {
		*server = "http://localhost:8000"
	}
	if *tokenFile == "" {
		p, err := session.DefaultTokenPath()
		if err != nil {
			return err
		}
		*tokenFile = p
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
			defer logger.Sync()
		}
	}

	a, err := newApp(*server, *tokenFile, *timeout, out, logger)
	if err != nil {
		return err
	}
	return a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch strings.ToLower(cmd) {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "companies":
		return a.companies(ctx, args)
	case "users":
		return a.users(ctx, args)
	case "batches":
		return a.batches(ctx, args)
	case "records":
		return a.records(ctx, args)
	case "upload-xlsx":
		return a.uploadXLSX(ctx, args)
	case "upload-cards":
		return a.uploadCards(ctx, args)
	case "watch":
		return a.watch(ctx, args)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

// app is one signed-in terminal.
type app struct {
	client  *apiclient.Client
	session *session.Manager
	base    string
	out     io.Writer
	logger  *zap.Logger
}

func newApp(server, tokenFile string, timeout time.Duration, out io.Writer, logger *zap.Logger) (*app, error) {
	client, err := apiclient.New(server,
		apiclient.WithHTTPClient(newHTTPClient(timeout)),
		apiclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	return &app{
		client:  client,
		session: session.NewManager(client, session.NewFileStore(tokenFile), session.WithLogger(logger)),
		base:    strings.TrimRight(server, "/"),
		out:     out,
		logger:  logger,
	}, nil
}
