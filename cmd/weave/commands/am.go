package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/weave/am"
	"github.com/teranos/weave/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage node configuration",
	Long: `am: manage node configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (WEAVE_* prefix, e.g. WEAVE_CARRIER_KIND)
2. Project config (nearest am.toml above the working directory)
3. User config (~/.weave/am.toml)
4. System config (/etc/weave/am.toml)
5. Default values

Examples:
  weave am show                   # Show effective configuration
  weave am show --format json     # Same, as JSON
  weave am get carrier.kind       # Get one value and its source
  weave am validate               # Validate current configuration
  weave am init                   # Write defaults to ~/.weave/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value using dot notation",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate the merged configuration, or a single file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmValidate,
}

var amInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration (default ~/.weave/am.toml)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	settings := am.GetViper().AllSettings()
	out := cmd.OutOrStdout()

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))
	case "toml":
		data, err := am.Show(settings)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# weave configuration\n%s", data)
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !am.GetViper().IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	src := am.SourceOf(key)
	where := string(src.Source)
	if src.Path != "" {
		where += " " + src.Path
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v\t(%s)\n", am.Get(key), where)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	var (
		cfg *am.Config
		err error
	)
	if len(args) == 1 {
		cfg, err = am.LoadFromFile(args[0])
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.UserConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("could not determine home directory")
	}
	if fileExists(path) {
		return errors.Newf("%s already exists", path)
	}

	v := am.GetViper()
	cfg, err := am.LoadWithViper(v)
	if err != nil {
		return err
	}
	if err := am.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
