// Command shde is the driver program for the Self-Healing Debugging
// Engine: it wires the Debug Loop Controller and its supporting
// components together and exposes them as seven subcommands, following
// the reference module's cmd/agentctl "os.Args[1] selects a
// flag.FlagSet" dispatch shape rather than a third-party CLI framework.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"shde/internal/confidence"
	"shde/internal/learned"
	"shde/internal/logx"
	"shde/internal/metrics"
	"shde/internal/oracle"
	"shde/internal/oracle/providers"
	"shde/internal/parser"
	"shde/internal/patch"
	"shde/internal/report"
	"shde/internal/rollback"
	"shde/internal/session"
	"shde/internal/shdeconfig"
	"shde/internal/texec"
	"shde/internal/tracker"
	"shde/internal/vault"
)

const (
	exitSuccess = 0
	exitPartial = 1
	exitAborted = 2
	exitUsage   = 3
)

var log = logx.NewLogger("cli")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	var code int
	switch os.Args[1] {
	case "debug":
		code = runDebug(os.Args[2:])
	case "logs":
		code = runLogs(os.Args[2:])
	case "rollback":
		code = runRollback(os.Args[2:])
	case "performance":
		code = runPerformance(os.Args[2:])
	case "fix-imports":
		code = runFixImports(os.Args[2:])
	case "creds":
		code = runCreds(os.Args[2:])
	case "diagnose":
		code = runDiagnose(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "shde: unknown command %q\n\n", os.Args[1])
		printUsage()
		code = exitUsage
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: shde <debug|logs|rollback|performance|fix-imports|creds|diagnose> [flags]")
}

// commonFlags returns the --data-dir and --debug flags shared by every subcommand.
func commonFlags(fs *flag.FlagSet) (dataDir *string, debug *bool) {
	dataDir = fs.String("data-dir", "./shde_data", "root directory for all persisted state")
	debug = fs.Bool("debug", false, "enable debug logging")
	return
}

func runDebug(args []string) int {
	fs := flag.NewFlagSet("debug", flag.ContinueOnError)
	dataDir, debugFlag := commonFlags(fs)
	file := fs.String("file", "", "restrict this session's initial run to a specific file (implementation-defined by the test executor)")
	testCmd := fs.String("test-cmd", "pytest -q", "command line that runs the test suite (split on whitespace, run without a shell)")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve /metrics on this address for the duration of the session")
	sinkFile := fs.String("sink-file", "", "if set, also write each session report as its own file under this directory")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logx.SetDebug(*debugFlag)

	cfg, err := shdeconfig.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: load config: %v\n", err)
		return exitUsage
	}

	if *metricsAddr != "" {
		srv, err := metrics.StartServer(*metricsAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shde: start metrics server: %v\n", err)
			return exitUsage
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		}()
	}

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: initialize components: %v\n", err)
		return exitUsage
	}
	defer cleanup()

	cmdParts := strings.Fields(*testCmd)
	deps.Executor = texec.NewShellExecutor("", cmdParts...)
	if *file != "" {
		deps.Executor = texec.NewShellExecutor("", append(cmdParts, *file)...)
	}

	rep, err := report.Open(cfg.ReportPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open report: %v\n", err)
		return exitUsage
	}

	var sink report.Sink = report.NullSink{}
	if *sinkFile != "" {
		sink = report.NewFileSink(*sinkFile)
	}

	ctrl := session.New(deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := ctrl.RunSession(ctx)
	if err != nil {
		log.Error("session %s aborted: %v", ctrl.SessionID(), err)
		_ = ctrl.Abort()
		_ = rep.RecordSession(result)
		_ = sink.Send(ctx, &result)
		return exitAborted
	}

	ctrl.Commit()
	if err := rep.RecordSession(result); err != nil {
		log.Warn("failed to persist session report: %v", err)
	}
	if err := sink.Send(ctx, &result); err != nil {
		log.Warn("sink delivery failed: %v", err)
	}

	printJSON(result)

	if result.FinalState == string(session.StatePartial) {
		return exitPartial
	}
	return exitSuccess
}

func runLogs(args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	dataDir, debugFlag := commonFlags(fs)
	limit := fs.Int("limit", 20, "maximum number of recent attempts to show")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logx.SetDebug(*debugFlag)

	cfg, err := shdeconfig.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: load config: %v\n", err)
		return exitUsage
	}

	tr, err := tracker.Open(cfg.PatchDataDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open tracker: %v\n", err)
		return exitUsage
	}
	defer tr.Close()

	cache, err := report.OpenCache()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open cache: %v\n", err)
		return exitUsage
	}
	defer cache.Close()

	if err := cache.Rebuild(tr); err != nil {
		fmt.Fprintf(os.Stderr, "shde: rebuild cache: %v\n", err)
		return exitUsage
	}

	entries, err := cache.RecentAttempts(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: query attempts: %v\n", err)
		return exitUsage
	}
	printJSON(entries)
	return exitSuccess
}

func runPerformance(args []string) int {
	fs := flag.NewFlagSet("performance", flag.ContinueOnError)
	dataDir, debugFlag := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logx.SetDebug(*debugFlag)

	cfg, err := shdeconfig.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: load config: %v\n", err)
		return exitUsage
	}

	tr, err := tracker.Open(cfg.PatchDataDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open tracker: %v\n", err)
		return exitUsage
	}
	defer tr.Close()
	if err := tr.RollupPerformance(); err != nil {
		fmt.Fprintf(os.Stderr, "shde: rollup performance: %v\n", err)
		return exitUsage
	}

	cache, err := report.OpenCache()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open cache: %v\n", err)
		return exitUsage
	}
	defer cache.Close()

	if err := cache.Rebuild(tr); err != nil {
		fmt.Fprintf(os.Stderr, "shde: rebuild cache: %v\n", err)
		return exitUsage
	}

	summary, err := cache.Performance(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: query performance: %v\n", err)
		return exitUsage
	}
	printJSON(summary)
	return exitSuccess
}

// runRollback restores every file touched by the most recently recorded
// session, treating the session ledger's last entry as the target when
// no --session flag is given. This is the CLI-level equivalent of the
// controller's own Abort path, for use after a debug run whose result a
// human wants to discard retroactively.
func runRollback(args []string) int {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	dataDir, debugFlag := commonFlags(fs)
	sessionID := fs.String("session", "", "session ID to roll back (defaults to the most recently recorded session)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logx.SetDebug(*debugFlag)

	cfg, err := shdeconfig.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: load config: %v\n", err)
		return exitUsage
	}

	rep, err := report.Open(cfg.ReportPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open report: %v\n", err)
		return exitUsage
	}

	target := *sessionID
	if target == "" {
		sessions := rep.Sessions()
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "shde: no recorded sessions to roll back")
			return exitUsage
		}
		target = sessions[len(sessions)-1].SessionID
	}

	v := vault.New(cfg.BackupsDir())
	held := v.Held(target)
	if len(held) == 0 {
		fmt.Fprintf(os.Stderr, "shde: no held backups for session %s (already committed or unknown)\n", target)
		return exitUsage
	}
	if err := v.Abort(target); err != nil {
		fmt.Fprintf(os.Stderr, "shde: rollback failed: %v\n", err)
		return exitAborted
	}
	fmt.Printf("restored %d file(s) from session %s\n", len(held), target)
	return exitSuccess
}

// runFixImports runs only the ImportError pattern fixer against a
// single file's failure output, outside a full debug session, for
// scripted "just fix the imports" invocations.
func runFixImports(args []string) int {
	fs := flag.NewFlagSet("fix-imports", flag.ContinueOnError)
	dataDir, debugFlag := commonFlags(fs)
	file := fs.String("file", "", "python file to scan and fix (required)")
	testCmd := fs.String("test-cmd", "pytest -q", "command line that runs the test suite to discover import errors (split on whitespace, run without a shell)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logx.SetDebug(*debugFlag)
	if *file == "" {
		fmt.Fprintln(os.Stderr, "shde: fix-imports requires --file")
		return exitUsage
	}

	cfg, err := shdeconfig.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: load config: %v\n", err)
		return exitUsage
	}

	tr, err := tracker.Open(cfg.PatchDataDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open tracker: %v\n", err)
		return exitUsage
	}
	defer tr.Close()

	exec := texec.NewShellExecutor("", strings.Fields(*testCmd)...)
	result, err := exec.Run(context.Background(), texec.Opts{TargetFiles: []string{*file}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: run tests: %v\n", err)
		return exitUsage
	}

	registry := patch.NewRegistry()
	fixed := 0
	for _, f := range parseImportFailures(result.Combined()) {
		module := f.Message
		if _, rest, ok := strings.Cut(f.Message, "No module named '"); ok {
			module, _, _ = strings.Cut(rest, "'")
		}
		source, err := os.ReadFile(f.File)
		if err != nil {
			continue
		}
		name, rewritten, applied := registry.Fix(f, string(source))
		if !applied || name != "ImportError" {
			_ = tr.RecordImportFix(module, false)
			continue
		}
		if err := os.WriteFile(f.File, []byte(rewritten), 0o644); err != nil {
			_ = tr.RecordImportFix(module, false)
			continue
		}
		_ = tr.RecordImportFix(module, true)
		fixed++
	}

	fmt.Printf("fixed %d import error(s) in %s\n", fixed, *file)
	return exitSuccess
}

// runCreds encrypts oracle provider API keys to an at-rest secrets file so
// they need not live in plaintext environment variables, mirroring the
// reference orchestrator's interactive credential bootstrap.
func runCreds(args []string) int {
	fs := flag.NewFlagSet("creds", flag.ContinueOnError)
	dataDir, debugFlag := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logx.SetDebug(*debugFlag)

	cfg, err := shdeconfig.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: load config: %v\n", err)
		return exitUsage
	}

	secrets := map[string]string{}
	if shdeconfig.HasSecretsFile(cfg) {
		password, err := promptPassword("Enter the existing secrets password: ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "shde: %v\n", err)
			return exitUsage
		}
		secrets, err = shdeconfig.DecryptSecrets(cfg, password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shde: decrypt existing secrets: %v\n", err)
			return exitUsage
		}
	}

	for _, envVar := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY"} {
		value, err := promptPassword(fmt.Sprintf("%s (leave blank to keep current): ", envVar))
		if err != nil {
			fmt.Fprintf(os.Stderr, "shde: %v\n", err)
			return exitUsage
		}
		if value != "" {
			secrets[envVar] = value
		}
	}

	password1, err := promptPassword("New secrets file password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: %v\n", err)
		return exitUsage
	}
	password2, err := promptPassword("Confirm password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: %v\n", err)
		return exitUsage
	}
	if !bytes.Equal([]byte(password1), []byte(password2)) {
		fmt.Fprintln(os.Stderr, "shde: passwords do not match")
		return exitUsage
	}

	if err := shdeconfig.EncryptSecrets(cfg, password1, secrets); err != nil {
		fmt.Fprintf(os.Stderr, "shde: encrypt secrets: %v\n", err)
		return exitUsage
	}
	fmt.Printf("credentials saved to %s (mode 0600)\n", cfg.SecretsPath())
	return exitSuccess
}

// runDiagnose fans a synthetic error message out to every configured
// oracle provider concurrently via Adapter.ProbeAll and reports which
// ones produced a diff, so a user can check provider credentials and
// connectivity before a "debug" run's sequential provider chain needs
// them.
func runDiagnose(args []string) int {
	fs := flag.NewFlagSet("diagnose", flag.ContinueOnError)
	dataDir, debugFlag := commonFlags(fs)
	message := fs.String("message", "NameError: name 'x' is not defined", "synthetic error message to probe providers with")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logx.SetDebug(*debugFlag)

	cfg, err := shdeconfig.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: load config: %v\n", err)
		return exitUsage
	}

	tr, err := tracker.Open(cfg.PatchDataDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: open tracker: %v\n", err)
		return exitUsage
	}
	defer tr.Close()

	adapter := buildOracleAdapter(cfg, tr, loadSecretsNonInteractive(cfg))
	names := adapter.ProviderNames()
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "shde: no oracle providers configured (check credentials via \"shde creds\")")
		return exitUsage
	}

	responses := adapter.ProbeAll(context.Background(), *message, "", "")

	type providerStatus struct {
		Provider  string `json:"provider"`
		Responded bool   `json:"responded"`
	}
	statuses := make([]providerStatus, len(responses))
	for i, resp := range responses {
		statuses[i] = providerStatus{Provider: names[i], Responded: resp.Diff != ""}
	}
	printJSON(statuses)
	return exitSuccess
}

// promptPassword reads a line from the controlling terminal with echo
// disabled, so API keys and the secrets password never appear on screen
// or in shell history.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func parseImportFailures(output string) []patch.Failure {
	var out []patch.Failure
	for _, f := range parser.Parse(output) {
		if strings.Contains(f.Message, "No module named") {
			out = append(out, f)
		}
	}
	return out
}

// buildDeps assembles every component the Debug Loop Controller needs
// from cfg, wiring the Patch Oracle Adapter's provider chain in the
// order Metrics -> CircuitBreaker -> Retry -> Timeout -> RawClient.
func buildDeps(cfg shdeconfig.Config) (session.Deps, func(), error) {
	ls, err := learned.Open(cfg.LearningDBPath())
	if err != nil {
		return session.Deps{}, nil, fmt.Errorf("open learned-fix store: %w", err)
	}
	tr, err := tracker.Open(cfg.PatchDataDir())
	if err != nil {
		return session.Deps{}, nil, fmt.Errorf("open tracker: %w", err)
	}

	v := vault.New(cfg.BackupsDir())
	cm := confidence.New(cfg.Thresholds.ApplyThreshold, cfg.Thresholds.RetryThreshold, cfg.Thresholds.MaxAttempts, uint64(time.Now().UnixNano()))
	rb := rollback.New(v, cm, cfg.Thresholds.MaxRetries)
	store := session.NewFileStore(cfg.DataDir)

	adapter := buildOracleAdapter(cfg, tr, loadSecretsNonInteractive(cfg))

	deps := session.Deps{
		Learned:           ls,
		Registry:          patch.NewRegistry(),
		Oracle:            adapter,
		Confidence:        cm,
		Vault:             v,
		Rollback:          rb,
		Tracker:           tr,
		Store:             store,
		MaxAttempts:       cfg.Thresholds.MaxAttempts,
		SessionMaxRetries: cfg.Thresholds.SessionMaxRetries,
		RevalidateTimeout: time.Duration(cfg.Oracle.CallTimeoutSecs) * time.Second,
	}

	cleanup := func() { tr.Close() }
	return deps, cleanup, nil
}

// loadSecretsNonInteractive decrypts cfg's at-rest secrets file when both
// the file and SHDE_SECRETS_PASSWORD are present, for unattended "debug"
// invocations that were provisioned via "shde creds" ahead of time. Any
// failure here just falls back to plain environment variables.
func loadSecretsNonInteractive(cfg shdeconfig.Config) map[string]string {
	if !shdeconfig.HasSecretsFile(cfg) {
		return nil
	}
	password := os.Getenv("SHDE_SECRETS_PASSWORD")
	if password == "" {
		return nil
	}
	secrets, err := shdeconfig.DecryptSecrets(cfg, password)
	if err != nil {
		log.Warn("failed to decrypt secrets file, falling back to env vars: %v", err)
		return nil
	}
	return secrets
}

// resolveAPIKey looks up envVar first in the decrypted secrets map, then
// in the process environment, matching the reference config package's
// decrypted-file-then-env-var precedence.
func resolveAPIKey(secrets map[string]string, envVar string) string {
	if v, ok := secrets[envVar]; ok && v != "" {
		return v
	}
	return os.Getenv(envVar)
}

// buildOracleAdapter constructs one oracle.Client per configured
// provider, each wrapped with the standard middleware chain, and joins
// them into a single priority-ordered Adapter that also feeds the
// tracker's oracle_feedback ledger.
func buildOracleAdapter(cfg shdeconfig.Config, tr *tracker.Tracker, secrets map[string]string) *oracle.Adapter {
	timeout := time.Duration(cfg.Oracle.CallTimeoutSecs) * time.Second
	var clients []oracle.Client

	wrap := func(raw oracle.Client) oracle.Client {
		return oracle.Chain(raw,
			oracle.WithMetrics(),
			oracle.WithCircuitBreaker(oracle.DefaultCircuitBreakerConfig),
			oracle.WithRetry(oracle.DefaultRetryConfig),
			oracle.WithTimeout(timeout),
		)
	}

	for _, p := range cfg.Oracle.Providers {
		switch p {
		case shdeconfig.ProviderAnthropic:
			if key := resolveAPIKey(secrets, "ANTHROPIC_API_KEY"); key != "" {
				clients = append(clients, wrap(providers.NewAnthropicClient(key, "")))
			}
		case shdeconfig.ProviderOpenAI:
			if key := resolveAPIKey(secrets, "OPENAI_API_KEY"); key != "" {
				clients = append(clients, wrap(providers.NewOpenAIClient(key, "")))
			}
		case shdeconfig.ProviderGoogle:
			if key := resolveAPIKey(secrets, "GOOGLE_API_KEY"); key != "" {
				clients = append(clients, wrap(providers.NewGoogleClient(key, "")))
			}
		case shdeconfig.ProviderOllama:
			clients = append(clients, wrap(providers.NewOllamaClient(cfg.Oracle.OllamaHost, "")))
		}
	}

	onFeedback := func(fb oracle.Feedback) {
		_ = tr.RecordOracleFeedback(tracker.OracleFeedback{
			Provider:    fb.Provider,
			Succeeded:   fb.Succeeded,
			Rationale:   fb.Rationale,
			AttemptedAt: fb.AttemptedAt,
		})
	}

	return oracle.NewAdapter(clients, cfg.Thresholds.OraclePromptRetries, onFeedback)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "shde: marshal output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
