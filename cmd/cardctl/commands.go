package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/screens"
	"github.com/collabcards/dashboard/internal/session"
	"github.com/collabcards/dashboard/internal/table"
)

var errNotSignedIn = errors.New("not signed in, run cardctl login")

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

// identity restores the saved session and returns who is signed in.
func (a *app) identity(ctx context.Context) (*models.Identity, error) {
	if a.session.Restore(ctx) != session.StateAuthenticated {
		return nil, errNotSignedIn
	}
	return a.session.Identity(), nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("%w: login needs -email and -password", errUsage)
	}
	id, err := a.session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", id.DisplayName(), id.Role)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	id, err := a.identity(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", id.ID)
	fmt.Fprintf(w, "Email\t%s\n", id.Email)
	fmt.Fprintf(w, "Role\t%s\n", id.Role)
	company := screens.Placeholder
	if id.HasCompany() {
		company = *id.CompanyID
	}
	fmt.Fprintf(w, "Company\t%s\n", company)
	return w.Flush()
}

// sortFlags registers -sort and -desc on fs.
func sortFlags(fs *flag.FlagSet) func() table.Sort {
	key := fs.String("sort", "", "column to sort by")
	desc := fs.Bool("desc", false, "sort descending")
	return func() table.Sort {
		if *key == "" {
			return table.Sort{}
		}
		dir := table.Asc
		if *desc {
			dir = table.Desc
		}
		return table.Sort{Key: *key, Direction: dir}
	}
}

// show binds a one-shot table, waits for its rows and prints them.
func show[T any](ctx context.Context, a *app, name string, fetch table.FetchFunc[T], cols []table.Column[T], scope table.Scope, sort table.Sort) error {
	b := table.Bind(ctx, fetch, cols, table.Options{Name: name, Scope: scope, Logger: a.logger})
	defer b.Close()
	if sort.Key != "" {
		if err := b.SortBy(sort.Key, sort.Direction); err != nil {
			return fmt.Errorf("sort by %q: %w", sort.Key, err)
		}
	}
	m, err := b.Await(ctx)
	if err != nil {
		return err
	}
	if errors.Is(m.Err, apiclient.ErrUnauthorized) {
		return errNotSignedIn
	}
	if m.Err != nil {
		return m.Err
	}
	return printView(a.out, b.View())
}

func (a *app) companies(ctx context.Context, args []string) error {
	fs := flags("companies")
	sort := sortFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := a.identity(ctx); err != nil {
		return err
	}
	return show(ctx, a, "companies", screens.FetchCompanies(a.client), screens.CompanyColumns(), nil, sort())
}

func (a *app) users(ctx context.Context, args []string) error {
	fs := flags("users")
	sort := sortFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := a.identity(ctx); err != nil {
		return err
	}
	return show(ctx, a, "users", screens.FetchUsers(a.client), screens.UserColumns(), nil, sort())
}

func (a *app) batches(ctx context.Context, args []string) error {
	fs := flags("batches")
	company := fs.String("company", "", "company id")
	sort := sortFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := a.identity(ctx)
	if err != nil {
		return err
	}
	resolved, err := screens.ResolveCompany(id, *company)
	if err != nil {
		return err
	}
	s := sort()
	if s.Key == "" {
		s = screens.BatchesDefaultSort
	}
	return show(ctx, a, "batches", screens.FetchBatches(a.client), screens.BatchColumns(), screens.BatchScope(resolved), s)
}

func (a *app) records(ctx context.Context, args []string) error {
	fs := flags("records")
	batch := fs.String("batch", "", "batch id")
	sort := sortFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if *batch == "" {
		return fmt.Errorf("%w: records needs -batch", errUsage)
	}
	if _, err := a.identity(ctx); err != nil {
		return err
	}
	assets := screens.StaticAssets{Base: a.base}
	return show(ctx, a, "records", screens.FetchCards(a.client), screens.CardColumns(assets), screens.CardScope(*batch), sort())
}

func (a *app) uploadXLSX(ctx context.Context, args []string) error {
	fs := flags("upload-xlsx")
	file := fs.String("file", "", "spreadsheet to upload")
	company := fs.String("company", "", "company id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: upload-xlsx needs -file", errUsage)
	}
	id, err := a.identity(ctx)
	if err != nil {
		return err
	}
	resolved, err := screens.ResolveUploadCompany(id, *company)
	if err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	batch, err := a.client.UploadXLSX(ctx, resolved, apiclient.UploadFile{Name: filepath.Base(*file), Body: f})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Batch %s: %d records queued (%s)\n", batch.ID, batch.TotalRecords, batch.Status)
	return nil
}

func (a *app) uploadCards(ctx context.Context, args []string) error {
	fs := flags("upload-cards")
	batch := fs.String("batch", "", "batch id")
	company := fs.String("company", "", "company id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *batch == "" || fs.NArg() == 0 {
		return fmt.Errorf("%w: upload-cards needs -batch and at least one file", errUsage)
	}
	id, err := a.identity(ctx)
	if err != nil {
		return err
	}
	resolved, err := screens.ResolveUploadCompany(id, *company)
	if err != nil {
		return err
	}

	files := make([]apiclient.UploadFile, 0, fs.NArg())
	for _, name := range fs.Args() {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		files = append(files, apiclient.UploadFile{Name: filepath.Base(name), Body: f})
	}
	if err := a.client.UploadCards(ctx, *batch, resolved, files); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d card images uploaded to batch %s\n", len(files), *batch)
	return nil
}

// watch polls a batch's records and reprints the summary on every change
// until all cards are generated or failed.
func (a *app) watch(ctx context.Context, args []string) error {
	fs := flags("watch")
	batch := fs.String("batch", "", "batch id")
	interval := fs.Duration("interval", 5*time.Second, "poll interval")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *batch == "" {
		return fmt.Errorf("%w: watch needs -batch", errUsage)
	}
	if _, err := a.identity(ctx); err != nil {
		return err
	}

	assets := screens.StaticAssets{Base: a.base}
	b := table.Bind(ctx, screens.FetchCards(a.client), screens.CardColumns(assets), table.Options{
		Name:            "watch",
		Scope:           screens.CardScope(*batch),
		RefreshInterval: *interval,
		Logger:          a.logger,
	})
	defer b.Close()

	changed := make(chan struct{}, 1)
	cancel := b.Subscribe(func(v table.View) {
		if v.Loading {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	last := ""
	for {
		m, err := b.Await(ctx)
		if err != nil {
			return err
		}
		switch {
		case errors.Is(m.Err, apiclient.ErrUnauthorized):
			return errNotSignedIn
		case m.Err != nil:
			fmt.Fprintf(a.out, "%s  %v\n", time.Now().Format(time.TimeOnly), m.Err)
		default:
			if summary := screens.CardSummary(m.Rows); summary != last {
				last = summary
				fmt.Fprintf(a.out, "%s  %s\n", time.Now().Format(time.TimeOnly), summary)
			}
			if len(m.Rows) > 0 && screens.CardsSettled(m.Rows) {
				return printView(a.out, b.View())
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// printView writes a view as a tab-aligned table. Image cells print their URL.
func printView(out io.Writer, v table.View) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	titles := make([]string, len(v.Headers))
	for i, h := range v.Headers {
		titles[i] = strings.ToUpper(h.Title)
	}
	fmt.Fprintln(w, strings.Join(titles, "\t"))
	for _, row := range v.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = c.Text
			if c.ImageURL != "" {
				cells[i] = c.ImageURL
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if v.Error != "" {
		fmt.Fprintf(w, "error: %s\n", v.Error)
	}
	return w.Flush()
}
