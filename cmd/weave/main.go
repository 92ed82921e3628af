package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/weave/am"
	"github.com/teranos/weave/cmd/weave/commands"
	"github.com/teranos/weave/logger"
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "weave - agent-centric semantic sync",
	Long: `weave - signed RDF expressions shared between agents in neighbourhoods.

Each agent keeps perspectives of link expressions, publishes verifiable
credentials into its knowledge graph, and syncs with peers over a carrier.

Available commands:
  agent         - Run the agent or print its DID
  publish       - Issue a credential over Turtle claims
  query         - Query the local knowledge graph with SPARQL
  neighbourhood - Derive neighbourhood urls
  am            - Manage configuration ("I am")
  version       - Show build information

Examples:
  weave am init
  weave agent run
  weave publish claims.ttl
  weave query 'SELECT * WHERE { GRAPH ?g { ?s ?p ?o } }'`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs := am.GetViper().GetBool("log.json")
		if err := logger.InitializeWithVerbosity(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.AgentCmd)
	rootCmd.AddCommand(commands.PublishCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.NeighbourhoodCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
