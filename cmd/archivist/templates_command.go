package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/templates"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the extraction templates available to discover and ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			catalog, err := templates.Load(cfg.Paths.TemplateDir)
			if err != nil {
				return fmt.Errorf("load templates: %w", err)
			}
			list := catalog.List()
			if ctx.jsonOutput() {
				return writeJSON(cmd, list)
			}
			rows := make([][]string, 0, len(list))
			for _, tmpl := range list {
				hosts := strings.Join(tmpl.Hosts, ", ")
				if hosts == "" {
					hosts = "any"
				}
				rows = append(rows, []string{tmpl.Name, string(tmpl.Strategy), hosts, tmpl.Source})
			}
			printTable(cmd, "No templates", []string{"Name", "Strategy", "Hosts", "Source"}, rows, nil)
			return nil
		},
	}
}
