package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	stdout  io.Writer = os.Stdout
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "trackerctl",
	Short: "CLI for the Mamdani Tracker CMS",
	Long: `trackerctl manages promises, indicators and the First 100 Days timeline
through the tracker's CMS API: CSV imports, publishing, user accounts,
sitemap export and crawler cache maintenance.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.trackerctl/config.yaml)")
	flags.String("api-url", "", "tracker URL (default from config, TRACKER_API_URL or http://localhost:8080)")
	flags.String("api-key", "", "API key or session token (default from config or TRACKER_API_KEY)")
	flags.StringP("output", "o", "table", "output format: table, json or yaml")
	flags.String("ca", "", "CA certificate for a self-signed server")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.Duration("timeout", 30*time.Second, "request timeout")

	viper.BindPFlag("api_url", flags.Lookup("api-url"))
	viper.BindPFlag("api_key", flags.Lookup("api-key"))
	viper.BindPFlag("output", flags.Lookup("output"))
	viper.BindPFlag("ca", flags.Lookup("ca"))
	viper.BindPFlag("insecure", flags.Lookup("insecure"))
	viper.BindPFlag("timeout", flags.Lookup("timeout"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".trackerctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRACKER")
	viper.AutomaticEnv()
	viper.SetDefault("api_url", "http://localhost:8080")

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

// APIURL returns the configured server URL without trailing slashes
func APIURL() string {
	return strings.TrimRight(viper.GetString("api_url"), "/")
}

func outputFormat() string {
	return strings.ToLower(viper.GetString("output"))
}

// render prints v as JSON or YAML when asked, otherwise calls table
func render(v interface{}, table func()) error {
	switch outputFormat() {
	case "json":
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(stdout)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(v)
	case "table", "":
		table()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", outputFormat())
	}
}
