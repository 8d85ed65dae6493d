package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-patient-auth/client"
	"github.com/jrsteele09/go-patient-auth/internal/logging"
)

const usage = `commands:
  register <email> <password>
  login <email> <password>
  whoami
  get <path>
  password <current> <new>
  logout
  state
  quit`

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	cachePath := flag.String("cache", defaultCachePath(), "identity cache file")
	timeout := flag.Duration("timeout", 15*time.Second, "per-command timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logging.Setup(true, level)

	c, err := client.New(*baseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server url")
	}
	manager := client.NewSessionManager(c, client.WithIdentityCache(client.NewFileCache(*cachePath)))

	sh := &shell{manager: manager, out: os.Stdout, timeout: *timeout}
	if flag.NArg() > 0 {
		sh.oneShot(flag.Args())
		return
	}
	sh.repl(os.Stdin)
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "patient-auth", "session.json")
}

type shell struct {
	manager *client.SessionManager
	out     io.Writer
	timeout time.Duration
}

func (s *shell) repl(in io.Reader) {
	fmt.Fprintln(s.out, usage)
	scanner := bufio.NewScanner(in)
	for {
		state, _ := s.manager.State()
		fmt.Fprintf(s.out, "[%s]> ", state)
		if !scanner.Scan() {
			return
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return
		}
		s.exec(args)
	}
}

// oneShotNote is printed for single commands: credential cookies live only in this
// process, so only the cached identity survives to the next run.
const oneShotNote = "note: credentials are kept in memory only, so a session does not carry over to the next run; run sessionctl without arguments for an interactive session"

func (s *shell) oneShot(args []string) {
	fmt.Fprintln(s.out, oneShotNote)
	s.exec(args)
}

func (s *shell) exec(args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	switch {
	case args[0] == "register" && len(args) == 3:
		identity, err := s.manager.Client().Register(ctx, args[1], args[2])
		s.report(err, "registered %s (%s)", identityEmail(identity), identityID(identity))
	case args[0] == "login" && len(args) == 3:
		identity, err := s.manager.Login(ctx, args[1], args[2])
		s.report(err, "logged in as %s", identityEmail(identity))
	case args[0] == "whoami" && len(args) == 1:
		err := s.manager.Hydrate(ctx)
		state, identity := s.manager.State()
		s.report(err, "%s %s", state, identityEmail(identity))
	case args[0] == "get" && len(args) == 2:
		s.get(ctx, args[1])
	case args[0] == "password" && len(args) == 3:
		err := s.manager.ChangePassword(ctx, args[1], args[2])
		s.report(err, "password changed, log in again")
	case args[0] == "logout" && len(args) == 1:
		s.manager.Logout(ctx)
		fmt.Fprintln(s.out, "logged out")
	case args[0] == "state" && len(args) == 1:
		state, identity := s.manager.State()
		fmt.Fprintf(s.out, "%s %s epoch=%d\n", state, identityEmail(identity), s.manager.Epoch())
		if err := s.manager.LastError(); err != nil {
			fmt.Fprintf(s.out, "last error: %v\n", err)
		}
	default:
		fmt.Fprintln(s.out, usage)
	}
}

func (s *shell) get(ctx context.Context, path string) {
	req, err := s.manager.Client().NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		s.report(err, "")
		return
	}
	resp, err := s.manager.Gateway().Execute(req)
	if err != nil {
		s.report(err, "")
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	fmt.Fprintf(s.out, "%s\n%s\n", resp.Status, strings.TrimSpace(string(body)))
}

func (s *shell) report(err error, format string, args ...any) {
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, format+"\n", args...)
}
