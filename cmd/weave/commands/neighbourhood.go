package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/weave/neighbourhood"
)

// NeighbourhoodCmd groups neighbourhood helpers.
var NeighbourhoodCmd = &cobra.Command{
	Use:     "neighbourhood",
	Aliases: []string{"nh"},
	Short:   "Neighbourhood helpers",
}

var neighbourhoodIDCmd = &cobra.Command{
	Use:   "id [seed]",
	Short: "Derive a neighbourhood url from a seed",
	Long: `Print neighbourhood://<base58 sha2-256 multihash of seed>. Without a seed a
random one is used, giving a fresh neighbourhood.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := ""
		if len(args) == 1 {
			seed = args[0]
		}
		url, err := neighbourhood.GenerateID(seed)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

func init() {
	NeighbourhoodCmd.AddCommand(neighbourhoodIDCmd)
}
