package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/weave/am"
	"github.com/teranos/weave/carrier"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/logger"
)

// AgentCmd groups node lifecycle commands.
var AgentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the local agent or inspect its identity",
}

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent and join configured neighbourhoods",
	Long: `Start the agent with the configured carrier, ledger and sandbox, restore
its perspectives and neighbourhoods, and join every neighbourhood listed in
am.toml. Runs until interrupted.`,
	RunE: runAgent,
}

var agentDIDCmd = &cobra.Command{
	Use:   "did",
	Short: "Print the agent DID and its DID document",
	RunE:  runAgentDID,
}

var watchConfig bool

func init() {
	agentRunCmd.Flags().BoolVar(&watchConfig, "watch", true, "Join neighbourhoods added to ~/.weave/am.toml while running")
	AgentCmd.AddCommand(agentRunCmd)
	AgentCmd.AddCommand(agentDIDCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := openNode(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer n.Close()

	n.joinConfigured(ctx, cfg.Neighbourhoods)

	g, gctx := errgroup.WithContext(ctx)
	if ws, ok := n.carrier.(*carrier.WebSocketCarrier); ok {
		for _, peer := range cfg.Carrier.WebSocket.Peers {
			g.Go(func() error {
				if err := ws.Connect(gctx, peer); err != nil {
					n.logger.Warnw("Peer unreachable", logger.FieldPeer, peer, logger.FieldError, err)
				}
				return nil
			})
		}
	}

	if path := am.UserConfigPath(); watchConfig && fileExists(path) {
		w, err := am.Watch(path, n.logger, func(next *am.Config) error {
			n.joinConfigured(gctx, next.Neighbourhoods)
			return nil
		})
		if err != nil {
			n.logger.Warnw("Config watch unavailable", logger.FieldPath, path, logger.FieldError, err)
		} else {
			defer w.Stop()
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	pterm.Success.Printfln("Agent %s running (%s carrier)", n.agent.DID(), cfg.Carrier.Kind)
	if ws, ok := n.carrier.(*carrier.WebSocketCarrier); ok {
		pterm.Info.Printfln("Listening on %s", ws.URL())
	}
	for _, nb := range n.agent.Neighbourhoods().All() {
		pterm.Info.Printfln("Neighbourhood %s (%s)", nb.URL(), nb.Language().Address())
	}

	if err := g.Wait(); err != nil {
		return err
	}
	n.logger.Infow("Agent stopping")
	return nil
}

func runAgentDID(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := openNode(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer n.Close()

	doc, err := identity.Resolve(n.key.DID())
	if err != nil {
		return err
	}
	data, err := doc.JSON()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, n.key.DID())
	fmt.Fprintln(out, string(data))
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
