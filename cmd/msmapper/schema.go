// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/M0hamedSayed/MSMapper/internal/schema"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Work with target schema files",
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check target schema files and print their fields",
	Long: `Validate loads each schema file (YAML, or JSON by extension), reports
every problem it finds, and prints the fields of the valid ones.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSchemaValidate,
}

func runSchemaValidate(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	invalid := 0
	for _, path := range args {
		s, err := schema.LoadFile(path)
		if err != nil {
			invalid++
			fmt.Fprintf(w, "%v\n", err)
			continue
		}
		printSchema(w, path, s)
	}
	if invalid > 0 {
		return fmt.Errorf("%d schema file(s) invalid", invalid)
	}
	return nil
}

func printSchema(w io.Writer, path string, s types.TargetSchema) {
	fmt.Fprintf(w, "%s: schema %q, %d fields\n", path, s.Name, len(s.Fields))
	for _, f := range s.Fields {
		req := ""
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(w, "  %-24s  %-8s  %-8s  %s\n", f.Name, f.Type, req, f.Description)
	}
}

func init() {
	schemaCmd.AddCommand(schemaValidateCmd)
	rootCmd.AddCommand(schemaCmd)
}
