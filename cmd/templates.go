package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/web-intel-platform/internal/clock/system"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/server"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage the platform template catalog",
	}
	cmd.AddCommand(newTemplatesSeedCmd())
	cmd.AddCommand(newTemplatesValidateCmd())
	return cmd
}

func newTemplatesSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the built-in templates into the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is required to seed templates")
			}
			pg, err := server.OpenPostgres(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pg.Close()
			n, err := server.SeedTemplates(cmd.Context(), pg, system.New())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d templates\n", n)
			return nil
		},
	}
}

func newTemplatesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a template JSON file or a YAML catalog",
		Args:  cobra.ExactArgs(1),
		// Validation needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := readTemplates(args[0])
			if err != nil {
				return err
			}
			for _, tmpl := range list {
				if err := templates.Validate(tmpl); err != nil {
					return fmt.Errorf("template %q: %w: %v", tmpl.ID, err, intel.FieldsOf(err))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d template(s) valid\n", len(list))
			return nil
		},
	}
}

func readTemplates(path string) ([]intel.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		list, err := templates.ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return list, nil
	default:
		tmpl, err := templates.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w: %v", path, err, intel.FieldsOf(err))
		}
		return []intel.Template{tmpl}, nil
	}
}
