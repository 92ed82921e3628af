package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/weave/store"
)

// QueryCmd runs SPARQL against the persisted knowledge graph.
var QueryCmd = &cobra.Command{
	Use:   "query <sparql>",
	Short: "Query the agent's knowledge graph",
	Long: `Run a SPARQL SELECT or ASK query over the agent's persisted knowledge graph.

Examples:
  weave query 'SELECT ?s ?o WHERE { ?s <urn:knows> ?o }'
  weave query 'ASK { GRAPH ?g { <urn:a> <urn:knows> <urn:b> } }'`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := openNode(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer n.Close()

	res, err := n.agent.Query(args[0])
	if err != nil {
		return err
	}
	return renderResult(cmd, res)
}

func renderResult(cmd *cobra.Command, res *store.Result) error {
	out := cmd.OutOrStdout()
	if res.Ask {
		fmt.Fprintln(out, res.Boolean)
		return nil
	}
	if len(res.Bindings) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}

	data := pterm.TableData{res.Vars}
	for _, row := range res.Bindings {
		line := make([]string, len(res.Vars))
		for i, v := range res.Vars {
			if term, ok := row[v]; ok {
				line[i] = term.String()
			}
		}
		data = append(data, line)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(out).Render()
}
