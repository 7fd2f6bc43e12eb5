// The mailcache command inspects and maintains the local mail cache.
// Every subcommand operates on the cache database alone; nothing here
// talks to a mail server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailcache/internal/credential"
	"github.com/nhle/mailcache/internal/identity"
	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/session"
	"github.com/nhle/mailcache/internal/store"
	"github.com/nhle/mailcache/internal/sync"
)

var (
	flagConfig  = flag.String("config", "", "config file (default ~/.config/mailcache/config.yaml)")
	flagVerbose = flag.Bool("v", false, "enable debug logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: mailcache [flags] <command> [command flags]

Commands:
  sessions   list known users and their last activity
  emails     page through a cached mailbox
  search     search cached emails offline
  status     show sync cursors per mailbox
  wipe       delete one user's cached data and credential
  id         derive the local user id for a username and server origin

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "mailcache:", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	// The id command needs no database at all.
	if cmd == "id" {
		return runID(args)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.WarnLevel)
	if *flagVerbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	configPath := *flagConfig
	if configPath == "" {
		configPath = model.DefaultConfigPath()
	}
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	tracker := session.NewTracker(s, time.Duration(cfg.Session.TimeoutSec)*time.Second)
	eng := sync.NewEngine(s, nil, tracker, &credential.TokenStore{}, logger, cfg)
	defer eng.Stop()

	ctx := context.Background()
	switch cmd {
	case "sessions":
		return runSessions(ctx, s, tracker)
	case "emails":
		return runEmails(ctx, args, eng, tracker)
	case "search":
		return runSearch(ctx, args, eng, tracker)
	case "status":
		return runStatus(ctx, args, s, tracker)
	case "wipe":
		return runWipe(ctx, args, eng)
	default:
		return fmt.Errorf("unknown command %q (run without arguments for usage)", cmd)
	}
}

// resolveUser picks the explicit -user value when given, otherwise the
// tracker's current user.
func resolveUser(ctx context.Context, tracker *session.Tracker, explicit string) (string, error) {
	if explicit != "" {
		if !identity.Valid(explicit) {
			return "", fmt.Errorf("invalid user id %q", explicit)
		}
		return explicit, nil
	}
	current, err := tracker.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving current user: %w", err)
	}
	if current == nil {
		return "", fmt.Errorf("no active session; pass -user")
	}
	return current.UserID, nil
}

func runSessions(ctx context.Context, s store.Store, tracker *session.Tracker) error {
	sessions, err := s.GetSessions(ctx)
	if err != nil {
		return err
	}
	current, err := tracker.CurrentUser(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tUSERNAME\tHOST\tLAST ACTIVITY")
	for _, sess := range sessions {
		marker := ""
		if current != nil && current.UserID == sess.UserID {
			marker = " *"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n",
			sess.UserID, marker, sess.Username, sess.Host,
			sess.LastActivity.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func runEmails(ctx context.Context, args []string, eng *sync.Engine, tracker *session.Tracker) error {
	fs := flag.NewFlagSet("emails", flag.ExitOnError)
	user := fs.String("user", "", "user id (default: current session)")
	mailbox := fs.String("mailbox", "", "mailbox id (required)")
	limit := fs.Int("limit", 20, "maximum emails to list")
	offset := fs.Int("offset", 0, "listing offset")
	fs.Parse(args)

	if *mailbox == "" {
		return fmt.Errorf("emails: -mailbox is required")
	}
	userID, err := resolveUser(ctx, tracker, *user)
	if err != nil {
		return err
	}
	if err := eng.InitializeUser(ctx, userID); err != nil {
		return err
	}
	emails, err := eng.MailboxEmails(ctx, *mailbox, *offset, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECEIVED\tFROM\tSUBJECT")
	for _, e := range emails {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			e.ReceivedAt.Local().Format("2006-01-02 15:04"), senderOf(e), firstLine(e.Subject))
	}
	return w.Flush()
}

func runSearch(ctx context.Context, args []string, eng *sync.Engine, tracker *session.Tracker) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	user := fs.String("user", "", "user id (default: current session)")
	mailbox := fs.String("mailbox", "", "restrict the search to one mailbox")
	fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search: no query given")
	}
	userID, err := resolveUser(ctx, tracker, *user)
	if err != nil {
		return err
	}
	if err := eng.InitializeUser(ctx, userID); err != nil {
		return err
	}
	emails, err := eng.SearchOffline(ctx, query, *mailbox)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		fmt.Println("no matches")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECEIVED\tFROM\tSUBJECT")
	for _, e := range emails {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			e.ReceivedAt.Local().Format("2006-01-02 15:04"), senderOf(e), firstLine(e.Subject))
	}
	return w.Flush()
}

func runStatus(ctx context.Context, args []string, s store.Store, tracker *session.Tracker) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	user := fs.String("user", "", "user id (default: current session)")
	fs.Parse(args)

	userID, err := resolveUser(ctx, tracker, *user)
	if err != nil {
		return err
	}
	states, err := s.GetSyncStates(ctx, userID)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Printf("no sync state recorded for %s\n", userID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tMAILBOX\tPOSITION\tSTATE\tLAST SYNC")
	for _, st := range states {
		mailbox := st.MailboxID
		if mailbox == "" {
			mailbox = "(account)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			st.AccountID, mailbox, st.Position, st.State,
			st.LastSyncAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func runWipe(ctx context.Context, args []string, eng *sync.Engine) error {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	user := fs.String("user", "", "user id to wipe (required, must be the current user)")
	fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("wipe: -user is required")
	}
	if err := eng.WipeUser(ctx, *user); err != nil {
		return err
	}
	fmt.Printf("wiped cached data and credential for %s\n", *user)
	return nil
}

func runID(args []string) error {
	fs := flag.NewFlagSet("id", flag.ExitOnError)
	username := fs.String("username", "", "account username (required)")
	origin := fs.String("origin", "", "server origin, e.g. https://mail.example.com (required)")
	fs.Parse(args)

	if *username == "" || *origin == "" {
		return fmt.Errorf("id: -username and -origin are required")
	}
	userID := identity.Resolve(*username, *origin)
	if userID == identity.None {
		return fmt.Errorf("cannot derive a user id from %q at %q", *username, *origin)
	}
	fmt.Println(userID)
	return nil
}

func senderOf(e model.Email) string {
	if len(e.From) == 0 {
		return ""
	}
	if e.From[0].Name != "" {
		return e.From[0].Name
	}
	return e.From[0].Email
}

// firstLine keeps listings one row per message even when a sanitized
// subject retained newlines.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
