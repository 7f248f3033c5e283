// Command agent is the field-device side of herbtrace: a durable local
// record store plus the sync engine that drains it to the ingest
// server whenever connectivity allows.
package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "herbtrace field collection agent",
	Long: `The herbtrace agent records structured collection observations on a
device that is frequently offline, stores them durably on-device, and
reconciles them with the remote ingest server when connectivity allows.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage: true,
}

func initConfig() error {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".herbtrace"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("agent")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HERBTRACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; flags and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	setupLogging()
	return nil
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "herbtrace-agent").Logger()

	if logFile := viper.GetString("log-file"); logFile != "" {
		log.Logger = log.Output(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default is ~/.herbtrace/agent.yaml)")
	pf.String("db", filepath.Join(".herbtrace", "collections.db"), "path to the local record database")
	pf.String("api-url", "http://localhost:8081", "base URL of the ingest server")
	pf.String("token", "", "bearer token for the ingest server")
	pf.String("collector-id", "", "identity recorded on captured observations")
	pf.String("log-file", "", "write logs to this file (rotated) instead of stderr")

	for _, key := range []string{"config", "db", "api-url", "token", "collector-id", "log-file"} {
		_ = viper.BindPFlag(key, pf.Lookup(key))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
