// Package cmd provides the command-line interface for adtrail.
// It handles command parsing, configuration loading and wiring of the
// pipeline components.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/adtrail/internal/config"
)

const envPrefix = "ADTRAIL"

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "adtrail",
	Short: "A classified ads scraping pipeline",
	Long: `adtrail crawls classified ad listings with a headless browser,
stores every ad with its price history and enriches it from the ad page.

Work flows through three durable queues: listing, storage and detail.
Submit listing jobs with "adtrail submit" and process them with "adtrail serve".`,
	SilenceUsage: true,
	RunE:         runRoot,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// flagBinding maps a viper key to a flag of cmd.
type flagBinding struct {
	viperKey string
	flagName string
	cmd      *cobra.Command
}

var bindings []flagBinding

func bind(cmd *cobra.Command, viperKey, flagName string) {
	bindings = append(bindings, flagBinding{viperKey: viperKey, flagName: flagName, cmd: cmd})
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./adtrail.yml)")
	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	pf := rootCmd.PersistentFlags()
	pf.StringP("database", "d", "./adtrail.db", "Path to the SQLite queue database")
	pf.String("store-driver", config.DriverSQLite, "Product store backend: 'sqlite' or 'mongo'")
	pf.String("store-path", "./products.db", "SQLite file for the product store")
	pf.String("mongo-uri", "", "MongoDB connection string for the mongo store")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("log-format", "json", "Log format: json or text")
	pf.String("log-file", "", "Also write logs to this file, rotated by size")

	bind(rootCmd, "database_path", "database")
	bind(rootCmd, "store.driver", "store-driver")
	bind(rootCmd, "store.path", "store-path")
	bind(rootCmd, "store.mongo_uri", "mongo-uri")
	bind(rootCmd, "log.level", "log-level")
	bind(rootCmd, "log.format", "log-format")
	bind(rootCmd, "log.file", "log-file")
}

// bindFlags connects flags to viper keys. Called on every initialization so
// that a viper.Reset does not lose them.
func bindFlags() {
	for _, b := range bindings {
		flag := b.cmd.PersistentFlags().Lookup(b.flagName)
		if flag == nil {
			flag = b.cmd.Flags().Lookup(b.flagName)
		}
		if err := viper.BindPFlag(b.viperKey, flag); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", b.flagName, err)
		}
	}
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("adtrail")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := registerDefaults(config.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to register defaults: %v\n", err)
	}
	bindFlags()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// registerDefaults makes every configuration key known to viper, so that
// nested keys can be set from the environment (ADTRAIL_PIPELINE_DETAIL_CONCURRENCY).
func registerDefaults(cfg *config.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}
	setDefaults("", tree)
	return nil
}

func setDefaults(prefix string, tree map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := value.(map[string]any); ok {
			setDefaults(key, sub)
			continue
		}
		viper.SetDefault(key, value)
	}
}

// loadConfig decodes the merged configuration sources and validates them.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runRoot(cmd *cobra.Command, _ []string) error {
	showConfig, _ := cmd.Flags().GetBool("show-config")
	if !showConfig {
		return cmd.Help()
	}

	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return showCurrentConfig(cmd.OutOrStdout(), cfg)
}

func showCurrentConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Validate configuration before showing it
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	// Keep credentials out of the printed YAML.
	shown := *cfg
	shown.Store.MongoURI = config.RedactURI(cfg.Store.MongoURI)

	yamlData, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current adtrail Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./adtrail.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: %s_\n\n", envPrefix)

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (%s_ prefix, .env is loaded first)\n", envPrefix)
	fmt.Fprintf(w, "# 3. Configuration file (adtrail.yml)\n")
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}
