// Package cmd provides the playpen command line.
//
// Configuration comes from, highest priority first:
//
//  1. Command-line flags (--port, --save-policy, ...)
//  2. PLAYPEN_<SECTION>_<OPTION> environment variables
//  3. The config file: --config, PLAYPEN_CONFIG_FILE or ./.playpen.yml
//  4. Built-in defaults
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/playpen/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "playpen",
	Short: "A live HTML, CSS and JavaScript playground",
	Long: `Playpen edits the three sources of a web page in the browser and shows the
composed page in a sandboxed preview frame, saving projects to a project API
or a local directory.

Quick Start:
  playpen init                  Write a default .playpen.yml
  playpen api                   Run the reference project API
  playpen token --subject me    Issue a token for the API
  playpen serve                 Start the editor
  playpen serve --dir ./site    Edit index.html, style.css and script.js in ./site
  playpen compose --html a.html Compose sources into one document`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./"+config.FileName+", can also use PLAYPEN_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PLAYPEN_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.FileName, ".yml"))
	}

	viper.SetEnvPrefix("PLAYPEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing default file is fine; defaults and the environment still apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
		fmt.Fprintln(os.Stderr, "Warning: cannot read config file:", err)
	}
}
