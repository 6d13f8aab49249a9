package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/declarest/declarest/serv"
)

// These variables are set using -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

func main() {
	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "declarest",
		Short: fmt.Sprintf("declarest %s (%s): OpenAPI-driven CRUD gateway", version, commit),
	}

	rootCmd.PersistentFlags().StringVar(&configPath,
		"config", "./config/declarest.yml", "path to the config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := serv.NewConfig(configPath)
			if err != nil {
				return err
			}
			s, err := serv.NewService(conf)
			if err != nil {
				return err
			}
			return s.Start(context.Background())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version details",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("declarest %s (%s)\n", version, commit)
		},
	}
}
