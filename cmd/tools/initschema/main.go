// initschema applies the collector schema to the configured database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fundrate-collector/internal/store/postgres"
)

const defaultSchemaPath = "sql/schema.sql"

func main() {
	rootCmd := &cobra.Command{
		Use:           "initschema [schema-file]",
		Short:         "Apply the collector database schema",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaPath := defaultSchemaPath
			if len(args) == 1 {
				schemaPath = args[0]
			}
			return run(cmd.Context(), schemaPath)
		},
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Schema init failed")
	}
}

func run(ctx context.Context, schemaPath string) error {
	_ = godotenv.Load()
	dbURL := os.Getenv("DB_CONNECTION")
	if dbURL == "" {
		return fmt.Errorf("DB_CONNECTION is required")
	}

	st, err := postgres.Open(ctx, dbURL)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	if err := st.Migrate(ctx, schemaPath); err != nil {
		return err
	}
	log.Info().Str("schema", schemaPath).Msg("Schema applied")
	return nil
}
