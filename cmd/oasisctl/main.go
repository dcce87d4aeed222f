package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	migrate "github.com/SplitFi/go-oasis/db"
	"github.com/SplitFi/go-oasis/env"
	"github.com/SplitFi/go-oasis/server"
	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/service/metadata"
	"github.com/SplitFi/go-oasis/service/persist/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "oasisctl",
	Short: "Operational tooling for the oasis marketplace",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		server.SetDefaults()
		logger.InitWithGCPDefaults()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the core schema migrations to POSTGRES_*",
	RunE:  runMigrate,
}

var pinCmd = &cobra.Command{
	Use:   "pin <file>",
	Short: "Pin a file and its metadata to IPFS_API_URL and print the token URI",
	Args:  cobra.ExactArgs(1),
	RunE:  runPin,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <uri>",
	Short: "Fetch and print the metadata a token URI points at through IPFS_GATEWAYS",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var (
	name        string
	description string
	timeout     time.Duration
)

func init() {
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", time.Minute, "timeout for the whole command")

	pinCmd.Flags().StringVarP(&name, "name", "n", "", "token name")
	pinCmd.Flags().StringVarP(&description, "description", "d", "", "token description")
	pinCmd.MarkFlagRequired("name")
	pinCmd.MarkFlagRequired("description")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(resolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	client, err := postgres.NewClient()
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer client.Close()
	return migrate.RunMigrations(client, migrate.CoreMigrations)
}

func runPin(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	image, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	sh := content.NewIPFSShell(env.GetString("IPFS_API_URL"), env.GetString("IPFS_PROJECT_ID"), env.GetString("IPFS_PROJECT_SECRET"))
	store := content.NewRetryStore(content.NewIPFSStore(sh), env.GetDuration("PIN_RETRY_MAX_ELAPSED"))

	c, err := metadata.NewAssembler(store).Assemble(ctx, name, description, image)
	if err != nil {
		return err
	}

	logger.For(ctx).WithField("pinName", "metadata-"+filepath.Base(args[0])).Info("pinned token metadata")
	fmt.Fprintln(cmd.OutOrStdout(), content.FormatURI(c))
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := content.ParseURI(args[0])
	if err != nil {
		return err
	}

	gateways := env.GetStringSlice("IPFS_GATEWAYS")
	if len(gateways) == 0 {
		return fmt.Errorf("IPFS_GATEWAYS is empty")
	}
	desc, err := metadata.Fetch(ctx, content.NewGatewayStore(http.DefaultClient, gateways...), c)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		metadata.Descriptor
		ImageURL string `json:"image_url"`
	}{desc, content.GatewayURL(gateways[0], desc.Image)})
}
