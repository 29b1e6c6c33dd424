package radmin

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/config"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "radmin",
	Short: "radmin serves a generic admin REST API",
	Long:  `radmin exposes CRUD, bulk, import/export and introspection endpoints for every entity of a Postgres schema or a YAML catalog`,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

// Main runs the radmin command line.
func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = initConfig
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/radmin.yaml)")
	pf.StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, fatal, none)")
	pf.BoolP("version", "v", false, "Print the version number")

	pf.String("store.driver", "", "Entity store: postgres or memory")
	pf.StringP("store.connString", "c", "", "PostgreSQL connection string")
	pf.String("catalog.file", "", "YAML entity catalog")
	pf.StringSlice("catalog.namespaces", nil, "Namespaces to expose (default all)")
	viper.BindPFlags(pf)

	rootCmd.AddCommand(serveCmd, modelsCmd, describeCmd)
}

// initConfig loads the configuration for every subcommand. The bare root
// command only prints help or the version.
func initConfig(cmd *cobra.Command, _ []string) error {
	if cmd == rootCmd {
		return nil
	}
	var err error
	cfg, err = config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return nil
}

// newLogger builds the process logger for --log-level.
func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}
