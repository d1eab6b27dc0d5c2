package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/hyperloop/internal/agent"
	"github.com/soyeahso/hyperloop/internal/llm"
	"github.com/soyeahso/hyperloop/internal/model"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	var quantized bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the swarm's agents or run one of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAgents(cmd, quantized)
		},
	}

	cmd.Flags().BoolVar(&quantized, "quantized", false, "bind agents to the fallback model")
	cmd.AddCommand(newAgentsRunCmd())
	return cmd
}

func listAgents(cmd *cobra.Command, quantized bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	plan := model.FromConfig(cfg.Models)
	sel := plan.Primary
	if quantized {
		sel = plan.Fallback
	}

	registry := llm.NewRegistryFromConfig(cfg.Runtime, cfg.Models, log)
	factory := agent.NewFactory(registry, cfg.Swarm, log)

	w := cmd.OutOrStdout()
	for _, name := range cfg.Swarm.Agents {
		a, err := factory(name, sel)
		if err != nil {
			fmt.Fprintf(w, "  %-12s error: %v\n", name, err)
			continue
		}
		info := a.Info()
		line := fmt.Sprintf("  %-12s model=%s", info.Name, info.Model)
		if info.Persona != "" {
			line += "  persona=" + truncate(info.Persona, 48)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func newAgentsRunCmd() *cobra.Command {
	var (
		quantized bool
		stream    bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <name> [task]",
		Short: "Run a single agent's task against the runtime and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			name := args[0]
			task := "Task for " + name
			if len(args) > 1 {
				task = strings.Join(args[1:], " ")
			}

			plan := model.FromConfig(cfg.Models)
			sel := plan.Primary
			if quantized {
				sel = plan.Fallback
			}

			registry := llm.NewRegistryFromConfig(cfg.Runtime, cfg.Models, log)
			a, err := agent.NewFactory(registry, cfg.Swarm, log)(name, sel)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			w := cmd.OutOrStdout()
			if stream {
				_, err := a.RunStreaming(ctx, agent.NewGroupChat(), task, func(delta string) {
					fmt.Fprint(w, delta)
				})
				fmt.Fprintln(w)
				return err
			}

			reply, err := a.Run(ctx, agent.NewGroupChat(), task)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, reply)
			return nil
		},
	}

	cmd.Flags().BoolVar(&quantized, "quantized", false, "use the fallback model")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the reply as it is generated")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}
