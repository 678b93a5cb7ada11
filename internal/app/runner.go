package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/route-runner/internal/cache"
	"github.com/ggonzalez94/route-runner/internal/chains"
	"github.com/ggonzalez94/route-runner/internal/config"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/execution"
	"github.com/ggonzalez94/route-runner/internal/httpx"
	"github.com/ggonzalez94/route-runner/internal/logging"
	"github.com/ggonzalez94/route-runner/internal/model"
	"github.com/ggonzalez94/route-runner/internal/planner"
	"github.com/ggonzalez94/route-runner/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// chainCachePruneAfter is how long an expired chain list is kept as a
// fallback before it is removed.
const chainCachePruneAfter = 7 * 24 * time.Hour

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time

	// openWallet builds the wallet routes are executed against.
	openWallet walletOpener
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout:     stdout,
		stderr:     stderr,
		stdin:      os.Stdin,
		now:        time.Now,
		openWallet: openConfiguredWallet,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	log         *zap.Logger
	root        *cobra.Command
	lastCommand string
	started     time.Time

	cache    *cache.Store
	store    *execution.Store
	planner  *planner.Client
	registry *chains.Registry
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state := &runtimeState{runner: r, log: zap.NewNop(), started: r.now()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.ExecuteContext(ctx))
	if err != nil {
		state.renderError("", err)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Execute planned cross-chain routes step by step against a wallet",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			log, err := logging.New(settings.LogLevel, settings.LogFormat)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = log.With(zap.String("command", path))
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	s.flags.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(s.newRouteCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newExecutionsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

type chainView struct {
	Chain          model.ChainMetadata  `json:"chain"`
	AddChainParams model.AddChainParams `json:"add_chain_params"`
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain metadata used to add and switch wallet networks"}
	show := &cobra.Command{
		Use:   "show <chain-id>",
		Short: "Resolve a chain id and print its wallet_addEthereumChain payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := parseChainID(args[0])
			if err != nil {
				return err
			}
			registry, err := s.chainRegistry()
			if err != nil {
				return err
			}
			meta, err := registry.Resolve(cmd.Context(), chainID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), chainView{Chain: meta, AddChainParams: chains.AddChainParams(meta)}, nil)
		},
	}
	root.AddCommand(show)
	return root
}

func (s *runtimeState) plannerClient() *planner.Client {
	if s.planner != nil {
		return s.planner
	}
	opts := []httpx.Option{httpx.WithLogger(s.log)}
	if key := strings.TrimSpace(s.settings.PlannerAPIKey); key != "" {
		opts = append(opts, httpx.WithHeader(planner.APIKeyHeader, key))
	}
	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries, opts...)
	s.planner = planner.New(httpClient, s.settings.PlannerBaseURL, s.settings.StatusPollInterval, s.log)
	return s.planner
}

func (s *runtimeState) chainRegistry() (*chains.Registry, error) {
	if s.registry != nil {
		return s.registry, nil
	}
	if s.settings.CacheEnabled && s.cache == nil {
		cacheStore, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		if err := cacheStore.Prune(chainCachePruneAfter); err != nil {
			s.log.Warn("prune chain cache", zap.Error(err))
		}
		s.cache = cacheStore
	}
	source := s.plannerClient()
	s.registry = chains.NewRegistry(
		chains.WithSource(source, s.cache, source.BaseURL(), s.settings.ChainCacheTTL),
		chains.WithLogger(s.log),
	)
	return s.registry, nil
}

func (s *runtimeState) executionStore() (*execution.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := execution.OpenStore(s.settings.ExecutionStorePath, s.settings.ExecutionLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open execution store", err)
	}
	s.store = store
	return store, nil
}

func (s *runtimeState) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = s.log.Sync()
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(commandPath),
	}
	return render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	body := &model.ErrorBody{
		Code:    code,
		Type:    clierr.TypeName(clierr.Code(code)),
		Message: err.Error(),
	}
	if cErr, ok := clierr.As(err); ok {
		body.Message = cErr.Error()
	}
	if stepErr, ok := execution.AsStepError(err); ok {
		index := stepErr.StepIndex
		body.RouteID = stepErr.RouteID
		body.StepIndex = &index
		body.SubAction = stepErr.SubAction
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error:   body,
		Meta:    s.meta(commandPath),
	}
	_ = render(s.runner.stderr, env, settings)
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	now := s.runner.now()
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: now.UTC(),
		Command:   commandPath,
		LatencyMS: now.Sub(s.started).Milliseconds(),
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// parseChainID accepts decimal or 0x-prefixed hex.
func parseChainID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 0, 64)
	if err != nil || id <= 0 {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid chain id %q", raw))
	}
	return id, nil
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
