package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/shacl"
	"github.com/teranos/weave/store"
)

// PublishCmd issues a credential into the local knowledge graph.
var PublishCmd = &cobra.Command{
	Use:   "publish <claims.ttl | ->",
	Short: "Issue a verifiable credential over Turtle claims",
	Long: `Sign the Turtle claims as a verifiable credential, check them against an
optional SHACL shape, and add them to the agent's knowledge graph. Prints the
credential id.

Examples:
  weave publish claims.ttl
  weave publish --shape person.ttl claims.ttl
  echo '<urn:a> <urn:knows> <urn:b> .' | weave publish -`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

var shapePath string

func init() {
	PublishCmd.Flags().StringVar(&shapePath, "shape", "", "SHACL shape (Turtle) the claims must conform to")
}

func readInput(cmd *cobra.Command, arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), errors.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", arg)
	}
	return string(data), nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	claims, err := store.ParseTurtle(text)
	if err != nil {
		return err
	}

	var shape *shacl.Shapes
	if shapePath != "" {
		data, err := os.ReadFile(shapePath)
		if err != nil {
			return errors.Wrapf(err, "read shape %s", shapePath)
		}
		if shape, err = shacl.ParseTurtle(string(data)); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := openNode(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer n.Close()

	id, err := n.agent.Publish(cmd.Context(), claims, shape)
	if err != nil {
		var verr *shacl.ValidationError
		if errors.As(err, &verr) {
			for _, r := range verr.Report.Results {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s %s: %s\n", r.FocusNode, r.Path, r.Message)
			}
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
