package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/patric-chuzhbe/flylink/internal/links"
	"github.com/patric-chuzhbe/flylink/internal/logger"
	"github.com/patric-chuzhbe/flylink/internal/models"
	"github.com/patric-chuzhbe/flylink/internal/pipeline"
	"github.com/patric-chuzhbe/flylink/internal/qrcode"
	"github.com/patric-chuzhbe/flylink/internal/session"
)

// ErrUsage marks errors caused by a malformed command line.
var ErrUsage = errors.New("usage")

var ErrLoginRequired = errors.New("please log in")

const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

const usage = `usage: flylink [global flags] <command> [command flags] [args]

commands:
  login     -email e [-password p]        log in (password is read from stdin when omitted)
  register  -name n -email e [-password p] create an account and log in
  logout                                  forget the stored session
  whoami                                  show the logged-in user
  shorten   [-code c] <url>               shorten a URL
  list      [-active|-inactive] [-q text] list your URLs
  get       <code>                        show a URL with its click statistics
  edit      -url u [-code new] <code>     change the target or the code of a URL
  delete    <code>                        delete a URL
  toggle    <code>                        activate or deactivate a URL
  qr        [-o dir] [-size n] [-t] <code> render the QR code of a short URL
  watch                                   print session changes made elsewhere
`

type command struct {
	run         func(ctx context.Context, args []string) error
	requireAuth bool
}

func (a *App) commands() map[string]command {
	return map[string]command{
		"login":    {run: a.login},
		"register": {run: a.register},
		"logout":   {run: a.logout},
		"whoami":   {run: a.whoami},
		"watch":    {run: a.watch},
		"shorten":  {run: a.shorten, requireAuth: true},
		"list":     {run: a.list, requireAuth: true},
		"get":      {run: a.get, requireAuth: true},
		"edit":     {run: a.edit, requireAuth: true},
		"delete":   {run: a.remove, requireAuth: true},
		"toggle":   {run: a.toggle, requireAuth: true},
		"qr":       {run: a.qr, requireAuth: true},
	}
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// Run executes the command named by args, or by the configuration's
// positional arguments when args is nil, and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if args == nil {
		args = a.cfg.Args
	}

	err := a.dispatch(ctx, args)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		fmt.Fprintln(a.errOut, err)
		fmt.Fprint(a.errOut, usage)
		return ExitUsage
	case errors.Is(err, flag.ErrHelp):
		return ExitUsage
	case pipeline.Reported(err):
		logger.Log.Debugw("command failed", "error", err)
		return ExitError
	case errors.Is(err, pipeline.ErrSessionExpired):
		logger.Log.Debugw("command failed", "error", err)
		fmt.Fprintln(a.errOut, "session expired, please log in again")
		return ExitError
	}

	fmt.Fprintln(a.errOut, "error:", err)

	return ExitError
}

func (a *App) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	cmd, ok := a.commands()[args[0]]
	if !ok {
		return usageError("unknown command %q", args[0])
	}

	if cmd.requireAuth {
		if err := a.holder.RequireAuth(ctx); err != nil {
			return ErrLoginRequired
		}
	}

	return cmd.run(ctx, args[1:])
}

func (a *App) newFlagSet(name string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(a.errOut)

	return flags
}

func (a *App) parse(flags *flag.FlagSet, args []string, positional int) ([]string, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, usageError("%s: %v", flags.Name(), err)
	}
	if flags.NArg() != positional {
		return nil, usageError("%s expects %d argument(s), got %d", flags.Name(), positional, flags.NArg())
	}

	return flags.Args(), nil
}

func (a *App) success(title, description string) {
	a.notifier.Notify(pipeline.Notification{Level: pipeline.LevelSuccess, Title: title, Description: description})
}

func (a *App) readPassword() (string, error) {
	fmt.Fprint(a.errOut, "Password: ")
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error reading password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) login(ctx context.Context, args []string) error {
	flags := a.newFlagSet("login")
	email := flags.String("email", "", "account e-mail")
	password := flags.String("password", "", "account password")
	if _, err := a.parse(flags, args, 0); err != nil {
		return err
	}

	if *password == "" {
		var err error
		if *password, err = a.readPassword(); err != nil {
			return err
		}
	}

	err := a.holder.Login(ctx, models.LoginRequest{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	usr := a.holder.User()
	a.success("Welcome back, "+usr.Name, "")

	return nil
}

func (a *App) register(ctx context.Context, args []string) error {
	flags := a.newFlagSet("register")
	name := flags.String("name", "", "display name")
	email := flags.String("email", "", "account e-mail")
	password := flags.String("password", "", "account password")
	if _, err := a.parse(flags, args, 0); err != nil {
		return err
	}

	if *password == "" {
		var err error
		if *password, err = a.readPassword(); err != nil {
			return err
		}
	}

	err := a.holder.Register(ctx, models.RegisterRequest{Name: *name, Email: *email, Password: *password})
	if err != nil {
		return err
	}
	a.success("Account created", "Logged in as "+*email)

	return nil
}

func (a *App) logout(ctx context.Context, args []string) error {
	if _, err := a.parse(a.newFlagSet("logout"), args, 0); err != nil {
		return err
	}
	if err := a.holder.Logout(ctx); err != nil {
		return err
	}
	a.success("Logged out", "")

	return nil
}

func (a *App) whoami(ctx context.Context, args []string) error {
	if _, err := a.parse(a.newFlagSet("whoami"), args, 0); err != nil {
		return err
	}

	if !a.holder.IsAuthenticated(ctx) {
		fmt.Fprintln(a.out, "not logged in")
		return nil
	}

	usr := a.holder.User()
	fmt.Fprintf(a.out, "%s <%s>\n", usr.Name, usr.Email)

	token, err := a.store.GetToken(ctx)
	if err != nil {
		return err
	}
	if exp, ok := session.TokenExpiry(token); ok {
		fmt.Fprintf(a.out, "session expires %s\n", exp.Local().Format(time.RFC1123))
	}

	return nil
}

func (a *App) watch(ctx context.Context, args []string) error {
	if _, err := a.parse(a.newFlagSet("watch"), args, 0); err != nil {
		return err
	}

	if usr := a.holder.User(); usr != nil {
		fmt.Fprintf(a.out, "logged in as %s <%s>\n", usr.Name, usr.Email)
	} else {
		fmt.Fprintln(a.out, "logged out")
	}

	for {
		select {
		case state := <-a.states:
			if state.Authenticated {
				fmt.Fprintf(a.out, "logged in as %s <%s>\n", state.User.Name, state.User.Email)
			} else {
				fmt.Fprintln(a.out, "logged out")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) shorten(ctx context.Context, args []string) error {
	flags := a.newFlagSet("shorten")
	code := flags.String("code", "", "custom short code")
	rest, err := a.parse(flags, args, 1)
	if err != nil {
		return err
	}

	created, err := a.links.Create(ctx, models.CreateURLRequest{OriginalURL: rest[0], CustomCode: *code})
	if err != nil {
		return fmt.Errorf("error shortening %s: %w", rest[0], err)
	}
	a.success("Link shortened", created.ShortURL)
	fmt.Fprintln(a.out, created.ShortURL)

	return nil
}

func (a *App) list(ctx context.Context, args []string) error {
	flags := a.newFlagSet("list")
	onlyActive := flags.Bool("active", false, "only active URLs")
	onlyInactive := flags.Bool("inactive", false, "only inactive URLs")
	query := flags.String("q", "", "search in codes and original URLs")
	if _, err := a.parse(flags, args, 0); err != nil {
		return err
	}
	if *onlyActive && *onlyInactive {
		return usageError("list: -active and -inactive are mutually exclusive")
	}

	var state *bool
	switch {
	case *onlyActive:
		state = onlyActive
	case *onlyInactive:
		active := false
		state = &active
	}

	urls, err := a.links.List(ctx)
	if err != nil {
		return fmt.Errorf("error listing URLs: %w", err)
	}
	urls = links.Filter(urls, state, *query)

	if len(urls) == 0 {
		fmt.Fprintln(a.out, "no URLs")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSHORT URL\tORIGINAL URL\tCLICKS\tSTATUS")
	for _, u := range urls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", u.Code, u.ShortURL, u.OriginalURL, u.ClickCount, status(u.IsActive))
	}

	return w.Flush()
}

func status(active bool) string {
	if active {
		return "active"
	}

	return "inactive"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}

	return t.Local().Format(time.RFC1123)
}

func (a *App) get(ctx context.Context, args []string) error {
	rest, err := a.parse(a.newFlagSet("get"), args, 1)
	if err != nil {
		return err
	}

	u, err := a.links.Get(ctx, rest[0])
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", rest[0], err)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Code:\t%s\n", u.Code)
	fmt.Fprintf(w, "Short URL:\t%s\n", u.ShortURL)
	fmt.Fprintf(w, "Original URL:\t%s\n", u.OriginalURL)
	fmt.Fprintf(w, "Status:\t%s\n", status(u.IsActive))
	fmt.Fprintf(w, "Clicks:\t%d\n", u.ClickCount)
	fmt.Fprintf(w, "Created:\t%s\n", formatTime(&u.CreatedAt))
	fmt.Fprintf(w, "Last click:\t%s\n", formatTime(u.LastClickAt))
	if u.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires:\t%s\n", formatTime(u.ExpiresAt))
	}

	return w.Flush()
}

func (a *App) edit(ctx context.Context, args []string) error {
	flags := a.newFlagSet("edit")
	target := flags.String("url", "", "new original URL")
	code := flags.String("code", "", "new short code")
	rest, err := a.parse(flags, args, 1)
	if err != nil {
		return err
	}

	updated, err := a.links.Update(ctx, rest[0], models.UpdateURLRequest{OriginalURL: *target, CustomCode: *code})
	if err != nil {
		return fmt.Errorf("error updating %s: %w", rest[0], err)
	}
	a.success("URL updated", updated.ShortURL)

	return nil
}

func (a *App) remove(ctx context.Context, args []string) error {
	rest, err := a.parse(a.newFlagSet("delete"), args, 1)
	if err != nil {
		return err
	}

	if err := a.links.Delete(ctx, rest[0]); err != nil {
		return fmt.Errorf("error deleting %s: %w", rest[0], err)
	}
	a.success("URL deleted", "")

	return nil
}

func (a *App) toggle(ctx context.Context, args []string) error {
	rest, err := a.parse(a.newFlagSet("toggle"), args, 1)
	if err != nil {
		return err
	}

	u, err := a.links.Toggle(ctx, rest[0])
	if err != nil {
		return fmt.Errorf("error toggling %s: %w", rest[0], err)
	}
	if u.IsActive {
		a.success("Link activated", u.ShortURL)
	} else {
		a.success("Link deactivated", u.ShortURL)
	}

	return nil
}

func (a *App) qr(ctx context.Context, args []string) error {
	flags := a.newFlagSet("qr")
	dir := flags.String("o", ".", "directory to write the PNG to")
	size := flags.Int("size", qrcode.DefaultSize, "image size in pixels")
	terminal := flags.Bool("t", false, "print the code to the terminal instead of writing a PNG")
	rest, err := a.parse(flags, args, 1)
	if err != nil {
		return err
	}

	u, err := a.links.Get(ctx, rest[0])
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", rest[0], err)
	}

	if *terminal {
		art, err := qrcode.Terminal(u.ShortURL)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, art)
		return nil
	}

	path, err := qrcode.WritePNG(*dir, u.Code, u.ShortURL, *size)
	if err != nil {
		return err
	}
	a.success("QR code saved", path)

	return nil
}
