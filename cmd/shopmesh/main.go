// Command shopmesh runs the store assistant. Configuration is read from a
// config file (--config), environment variables prefixed SHOPMESH_, and
// flags, in ascending precedence.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shopmesh",
		Short:         "Natural-language assistant for a commerce store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./shopmesh.yaml)")
	cobra.OnInitialize(initConfig)

	root.AddCommand(newServeCmd())

	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("shopmesh")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/shopmesh")
	}

	viper.SetEnvPrefix("shopmesh")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("listen", ":8080")
	viper.SetDefault("store_name", "the store")
	viper.SetDefault("provider", "openai")
	viper.SetDefault("supervisor_model", "")
	viper.SetDefault("agent_model", "")
	viper.SetDefault("commerce.base_url", "http://localhost/rest/V1")
	viper.SetDefault("commerce.token", "")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	// Missing config file is fine; env and defaults carry the run.
	_ = viper.ReadInConfig()
}
