package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forgedeploy",
	Short: "Self-healing preview deployments for generated projects",
	Long: `Forgedeploy turns a generated project into a live preview deployment
and automatically repairs and retries when the deployment fails: it
classifies the runtime, sanitizes manifests, synthesizes a build recipe,
and drives a bounded retry loop against the deployment platform.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.forgedeploy.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug output (shows internal diagnostics)")

	rootCmd.PersistentFlags().String("repair-url", "", "Repair agent URL (or set FORGEDEPLOY_REPAIR_URL)")
	rootCmd.PersistentFlags().String("repair-api-key", "", "Repair agent API key (or set FORGEDEPLOY_REPAIR_API_KEY)")
	rootCmd.PersistentFlags().String("learning-url", "", "Learning service URL; empty uses the local store")

	// TODO: add error return here
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("repair.url", rootCmd.PersistentFlags().Lookup("repair-url"))
	viper.BindPFlag("repair.api_key", rootCmd.PersistentFlags().Lookup("repair-api-key"))
	viper.BindPFlag("learning.url", rootCmd.PersistentFlags().Lookup("learning-url"))

	viper.SetDefault("fly.region", "iad")
	viper.SetDefault("engine.max_consecutive_failures", 5)
	viper.SetDefault("engine.max_signature_repeats", 3)
	viper.SetDefault("engine.max_attempts", 0)
	viper.SetDefault("engine.deploy_timeout_minutes", 10)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".forgedeploy")
	}

	viper.SetEnvPrefix("FORGEDEPLOY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("debug") {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}
