// Package main provides the CLI entrypoint for tradehub.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/config"
	"github.com/marceloligiero/tradehub/internal/logger"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/session"
	"github.com/marceloligiero/tradehub/internal/stats"
	"github.com/marceloligiero/tradehub/internal/store"
)

const (
	defaultBaseURL        = "http://localhost:8000"
	defaultTimeoutSeconds = 30
	defaultRPS            = 10.0
	defaultReviewPollMs   = 3000
	defaultLessonPollMs   = 5000
	defaultLogLevel       = "info"
	defaultHistoryLimit   = 20
	envBaseURL            = "TRADEHUB_BASE_URL"
)

var (
	rootBaseURL  string
	rootTimeout  int
	rootRPS      float64
	rootLogLevel string
	rootLogFile  string

	loginEmail   string
	historyLimit int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
		stop()
		os.Exit(1)
	}
}

// reportError prints one line per failure. Expired sessions get a fixed hint
// instead of the generic message.
func reportError(w io.Writer, err error) {
	msg := err.Error()
	switch {
	case apperr.IsSession(err):
		msg = "session expired, run `tradehub login`"
	case apperr.KindOf(err) != "":
		msg = apperr.UserMessage(err)
	}
	if _, werr := fmt.Fprintln(w, "Error: "+msg); werr != nil {
		// Best-effort logging to stderr.
		_ = werr
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tradehub",
		Short:         "Terminal client for the training platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootBaseURL, "base-url", defaultBaseURL, "backend base URL")
	flags.IntVar(&rootTimeout, "timeout", defaultTimeoutSeconds, "request timeout in seconds")
	flags.Float64Var(&rootRPS, "rps", defaultRPS, "maximum requests per second (0 disables pacing)")
	flags.StringVar(&rootLogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&rootLogFile, "log-file", "", "log file (default: XDG state dir)")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newChallengeCmd())
	rootCmd.AddCommand(newSubmissionCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newReviewCmd())
	rootCmd.AddCommand(newLessonCmd())

	return rootCmd
}

// settings is the merged result of defaults, config file, environment and flags.
type settings struct {
	baseURL        string
	timeout        time.Duration
	rps            float64
	reviewInterval time.Duration
	lessonInterval time.Duration
	logLevel       string
	logFile        string
}

func loadSettings(cmd *cobra.Command) (settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return settings{}, fmt.Errorf("failed to load .env: %w", err)
	}
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv(envBaseURL)); env != "" {
		fileCfg.Server.BaseURL = &env
	}
	applyStringConfig(cmd, "base-url", &rootBaseURL, fileCfg.Server.BaseURL)
	applyIntConfig(cmd, "timeout", &rootTimeout, fileCfg.Server.TimeoutSeconds)
	applyFloatConfig(cmd, "rps", &rootRPS, fileCfg.Server.RequestsPerSecond)
	applyStringConfig(cmd, "log-level", &rootLogLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-file", &rootLogFile, fileCfg.Log.File)

	reviewMs, lessonMs := defaultReviewPollMs, defaultLessonPollMs
	if v := fileCfg.Polling.ReviewIntervalMs; v != nil {
		reviewMs = *v
	}
	if v := fileCfg.Polling.LessonIntervalMs; v != nil {
		lessonMs = *v
	}

	s := settings{
		baseURL:        strings.TrimSpace(rootBaseURL),
		timeout:        time.Duration(rootTimeout) * time.Second,
		rps:            rootRPS,
		reviewInterval: time.Duration(reviewMs) * time.Millisecond,
		lessonInterval: time.Duration(lessonMs) * time.Millisecond,
		logLevel:       rootLogLevel,
		logFile:        expandHome(rootLogFile),
	}
	if s.logFile == "" {
		s.logFile = config.DefaultLogPath()
	}
	if err := validateSettings(s); err != nil {
		return settings{}, err
	}
	return s, nil
}

func validateSettings(s settings) error {
	if s.baseURL == "" {
		return fmt.Errorf("--base-url must not be empty")
	}
	if s.timeout <= 0 {
		return fmt.Errorf("--timeout must be > 0")
	}
	if s.rps < 0 {
		return fmt.Errorf("--rps must be >= 0")
	}
	if _, err := logger.ParseLevel(s.logLevel); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// app holds everything a command needs once settings are resolved.
type app struct {
	settings settings
	log      *zap.Logger
	store    *store.Store
	session  *session.Context
	client   *api.Client
	closers  []io.Closer
}

func openApp(cmd *cobra.Command) (*app, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	log, logCloser, err := logger.New(logger.Options{File: s.logFile, Level: s.logLevel})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	a := &app{settings: s, log: log, closers: []io.Closer{logCloser}}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)

	a.session = session.New(st, session.WithLogger(log.Named("session")))
	if err := a.session.Open(cmd.Context()); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	a.client, err = api.New(s.baseURL, a.session,
		api.WithTimeout(s.timeout),
		api.WithRateLimit(s.rps),
		api.WithLogger(log.Named("api")),
		api.WithUnauthorizedHandler(a.session.Expire),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	log.Debug("command started", zap.String("command", cmd.CommandPath()), zap.String("base_url", s.baseURL))
	return a, nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i].Close(); cerr != nil {
			logErrf("failed to close: %v\n", cerr)
		}
	}
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// withUser opens the app and requires a logged-in user.
func withUser(cmd *cobra.Command, fn func(a *app, user model.User) error) error {
	return withApp(cmd, func(a *app) error {
		user, err := a.session.RequireUser()
		if err != nil {
			return err
		}
		return fn(a, user)
	})
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE:  runLoginCmd,
	}
	cmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	return cmd
}

func runLoginCmd(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		in := bufio.NewReader(cmd.InOrStdin())
		email := strings.TrimSpace(loginEmail)
		if email == "" {
			line, err := promptLine(cmd, in, "Email: ")
			if err != nil {
				return err
			}
			email = line
		}
		password, err := readPassword(cmd, in)
		if err != nil {
			return err
		}
		user, err := a.session.Login(cmd.Context(), a.client, email, password)
		if err != nil {
			return err
		}
		return writeOut(cmd, "Logged in as %s (%s)\n", user.Name, strings.ToLower(string(user.Role)))
	})
}

func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	fd, ok := terminalInput(cmd)
	if !ok {
		return promptLine(cmd, in, "Password: ")
	}
	if err := writeOut(cmd, "Password: "); err != nil {
		return "", err
	}
	raw, err := term.ReadPassword(fd)
	if werr := writeOut(cmd, "\n"); werr != nil {
		return "", werr
	}
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

// terminalInput returns the descriptor of the command input when it is a terminal.
func terminalInput(cmd *cobra.Command) (int, bool) {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

func promptLine(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	if err := writeOut(cmd, "%s", prompt); err != nil {
		return "", err
	}
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// confirmer asks on the terminal, or accepts immediately with --yes.
// Without a terminal and without --yes nothing is confirmed.
func confirmer(cmd *cobra.Command, yes bool) func(prompt string) bool {
	return func(prompt string) bool {
		if yes {
			return true
		}
		if _, ok := terminalInput(cmd); !ok {
			return false
		}
		answer, err := promptLine(cmd, bufio.NewReader(cmd.InOrStdin()), prompt+" [y/N] ")
		if err != nil {
			return false
		}
		answer = strings.ToLower(answer)
		return answer == "y" || answer == "yes"
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.session.Logout(cmd.Context()); err != nil {
					return fmt.Errorf("failed to log out: %w", err)
				}
				return writeOut(cmd, "Logged out.\n")
			})
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUser(cmd, func(a *app, _ model.User) error {
				user, err := a.client.Me(cmd.Context())
				if err != nil {
					return err
				}
				return writeOut(cmd, "%s <%s> %s (id %d)\n", user.Name, user.Email, strings.ToLower(string(user.Role)), user.ID)
			})
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently opened submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if historyLimit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			return withApp(cmd, func(a *app) error {
				recent, err := a.store.ListRecent(cmd.Context(), historyLimit)
				if err != nil {
					return fmt.Errorf("failed to load history: %w", err)
				}
				return stats.RenderRecent(cmd.OutOrStdout(), recent)
			})
		},
	}
	cmd.Flags().IntVar(&historyLimit, "limit", defaultHistoryLimit, "number of submissions to list")
	return cmd
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# tradehub configuration
# Uncomment a value to enable it. CLI flags override config values;
# %s overrides base-url.

[server]
# base-url = %q
# timeout-seconds = %d
# requests-per-second = %.1f

[polling]
# review-interval-ms = %d
# lesson-interval-ms = %d

[log]
# level = %q
# file = %q
`,
		envBaseURL,
		defaultBaseURL,
		defaultTimeoutSeconds,
		defaultRPS,
		defaultReviewPollMs,
		defaultLessonPollMs,
		defaultLogLevel,
		config.DefaultLogPath(),
	)
}

func writeOut(cmd *cobra.Command, format string, args ...any) error {
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
