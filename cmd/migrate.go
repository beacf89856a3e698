package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/catalog"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Manage the category catalog",
}

var categoriesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the category catalog to the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			file = cfg.Sync.CatalogFile
		}
		cat, err := catalog.Load(file)
		if err != nil {
			return err
		}

		st, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := cat.Seed(cmd.Context(), st)
		if err != nil {
			return err
		}
		zap.L().Info("categories seeded", zap.Int("count", n))
		return nil
	},
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored categories",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cats, err := st.ListCategories(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "categories list")
		}
		if len(cats) == 0 {
			fmt.Fprintln(os.Stderr, "No categories. Run `provider-sync categories seed`.")
			return nil
		}
		return printJSON(os.Stdout, cats)
	},
}

func init() {
	categoriesSeedCmd.Flags().String("file", "", "catalog YAML file (default sync.catalog_file, or the built-in catalog)")

	categoriesCmd.AddCommand(categoriesSeedCmd)
	categoriesCmd.AddCommand(categoriesListCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(categoriesCmd)
}
