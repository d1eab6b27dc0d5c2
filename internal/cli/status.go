package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/execx"
	"github.com/soyeahso/hyperloop/internal/model"
	"github.com/soyeahso/hyperloop/internal/runtime"
	"github.com/soyeahso/hyperloop/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and runtime readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "hyperloop %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(w, "Config:  %s\n", paths.Config)
			fmt.Fprintf(w, "Data:    %s\n", paths.Data)
			fmt.Fprintf(w, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(w)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(w, "Config:  error loading: %v\n", err)
				return nil
			}

			plan := model.FromConfig(cfg.Models)
			fmt.Fprintf(w, "Runtime: binary=%s host=%s launchOnStart=%v\n",
				cfg.Runtime.Binary, cfg.Runtime.Host, cfg.Runtime.LaunchOnStart)
			fmt.Fprintf(w, "Models:  primary=%s fallback=%s switchAt=%d\n",
				plan.Primary, plan.Fallback, plan.SwitchAt)
			fmt.Fprintf(w, "Loop:    maxAttempts=%d startupWait=%s retryDelay=%s\n",
				cfg.Loop.MaxAttempts, cfg.Loop.StartupWait.Std(), cfg.Loop.RetryDelay.Std())
			fmt.Fprintf(w, "Install: %s %s\n",
				strings.Join(cfg.Install.Command, " "), strings.Join(cfg.Install.Packages, " "))
			fmt.Fprintf(w, "Agents:  %s\n", strings.Join(cfg.Swarm.Agents, ", "))
			fmt.Fprintf(w, "Store:   driver=%s\n", cfg.Store.Driver)
			if cfg.Status.Addr != "" {
				fmt.Fprintf(w, "Status:  http://%s/status\n", cfg.Status.Addr)
			}

			hookCount := 0
			for _, b := range cfg.Hooks.Bindings() {
				hookCount += len(b.Entries)
			}
			if hookCount > 0 {
				fmt.Fprintf(w, "Hooks:   %d command(s)\n", hookCount)
			}

			if check {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				rt := runtime.NewController(cfg.Runtime, execx.OSRunner{}, log)
				loaded := rt.IsModelLoaded(ctx, plan.Identifiers(plan.Primary)...)
				fmt.Fprintf(w, "Loaded:  %v\n", loaded)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(w, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(w, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "ask the runtime whether the model is loaded")
	return cmd
}
