package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/execution"
	"github.com/ggonzalez94/route-runner/internal/model"
	"github.com/ggonzalez94/route-runner/internal/planner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (s *runtimeState) newRouteCommand() *cobra.Command {
	root := &cobra.Command{Use: "route", Short: "Start and execute planned routes"}
	root.AddCommand(s.newRouteStartCommand())
	root.AddCommand(s.newRouteRunCommand())
	return root
}

func (s *runtimeState) newRouteStartCommand() *cobra.Command {
	var quotePath, sender string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Register a planned route with the planning service and print it with its first step",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req planner.StartRouteRequest
			if err := s.readJSONInput(quotePath, &req); err != nil {
				return err
			}
			if strings.TrimSpace(sender) != "" {
				req.Sender = strings.TrimSpace(sender)
			}
			if req.FromChainID <= 0 || req.ToChainID <= 0 {
				return clierr.New(clierr.CodeUsage, "quote must set fromChainId and toChainId")
			}
			route, err := s.plannerClient().StartRoute(cmd.Context(), req)
			if err != nil {
				return err
			}
			s.log.Info("route started",
				zap.Int64("route_id", route.ActiveRouteID),
				zap.Int("total_steps", route.TotalUserTx),
			)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), route, nil)
		},
	}
	cmd.Flags().StringVar(&quotePath, "quote-file", "", "Planned route quote JSON (- for stdin)")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender address override")
	_ = cmd.MarkFlagRequired("quote-file")
	return cmd
}

func (s *runtimeState) newRouteRunCommand() *cobra.Command {
	var routePaths []string
	var privateKey string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute started routes with the configured wallet",
		Long: "Execute one or more started routes. Routes run concurrently; wallet network " +
			"switches and submissions are serialized per wallet.",
		RunE: func(cmd *cobra.Command, args []string) error {
			routes := make([]model.Route, 0, len(routePaths))
			for _, path := range routePaths {
				var route model.Route
				if err := s.readJSONInput(path, &route); err != nil {
					return err
				}
				if route.ActiveRouteID == 0 || len(route.UserTxs) == 0 {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is not a started route", path))
				}
				routes = append(routes, route)
			}

			registry, err := s.chainRegistry()
			if err != nil {
				return err
			}
			store, err := s.executionStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w, closeWallet, err := s.runner.openWallet(ctx, s.settings, registry, strings.TrimSpace(privateKey), s.log)
			if err != nil {
				return err
			}
			defer closeWallet()

			executor := execution.NewRouteExecutor(s.plannerClient(),
				execution.WithAdvanceAttempts(s.settings.AdvanceAttempts),
				execution.WithExecutorLogger(s.log),
			)
			orchestrator := execution.NewOrchestrator(executor, w, registry,
				execution.WithRecorder(store),
				execution.WithObserver(newLogObserver(s.log)),
				execution.WithLogger(s.log),
			)

			records := make([]execution.Record, len(routes))
			var g errgroup.Group
			for i, route := range routes {
				g.Go(func() error {
					record, err := orchestrator.Run(ctx, route)
					records[i] = record
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil)
		},
	}
	cmd.Flags().StringArrayVar(&routePaths, "route-file", nil, "Started route JSON, repeatable (- for stdin)")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "Hex private key for the local wallet (overrides key source)")
	_ = cmd.MarkFlagRequired("route-file")
	return cmd
}

func (s *runtimeState) newExecutionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "executions", Short: "Inspect persisted route executions"}

	show := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution with its per-step hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.executionStore()
			if err != nil {
				return err
			}
			record, err := store.Get(strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, execution.ErrExecutionNotFound) {
					return clierr.Wrap(clierr.CodeUsage, "show execution", err)
				}
				return clierr.Wrap(clierr.CodeInternal, "show execution", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), record, nil)
		},
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			status = strings.ToLower(strings.TrimSpace(status))
			if status != "" && !knownStatus(execution.Status(status)) {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown execution status %q", status))
			}
			store, err := s.executionStore()
			if err != nil {
				return err
			}
			records, err := store.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list executions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (e.g. completed, aborted)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum executions to return")

	root.AddCommand(show)
	root.AddCommand(list)
	return root
}

func knownStatus(status execution.Status) bool {
	switch status {
	case execution.StatusIdle, execution.StatusStepPending, execution.StatusApproving,
		execution.StatusSending, execution.StatusConfirming, execution.StatusNextStepPending,
		execution.StatusCompleted, execution.StatusAborted:
		return true
	}
	return false
}

// readJSONInput decodes a JSON file, or stdin when path is "-".
func (s *runtimeState) readJSONInput(path string, out any) error {
	path = strings.TrimSpace(path)
	var (
		buf []byte
		err error
	)
	if path == "-" {
		buf, err = io.ReadAll(s.runner.stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("read %s", path), err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("parse %s", path), err)
	}
	return nil
}
