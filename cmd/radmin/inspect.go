package radmin

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the exposed entities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFor(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		models, err := a.describer.Models(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(models)
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <namespace>/<entity>",
	Short: "Print the field metadata of an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, name, ok := strings.Cut(args[0], "/")
		if !ok || namespace == "" || name == "" {
			return fmt.Errorf("expected <namespace>/<entity>, got %q", args[0])
		}
		a, err := appFor(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		desc, err := a.describer.Describe(cmd.Context(), namespace, name)
		if err != nil {
			return err
		}
		return printJSON(desc)
	},
}

func appFor(cmd *cobra.Command) (*app, error) {
	logger, err := newLogger(logLevel)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
