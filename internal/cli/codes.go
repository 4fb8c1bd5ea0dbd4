package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/triggersync/internal/export"
	"github.com/MrWong99/triggersync/pkg/marker"
)

// codeJSON is one row of `codes --format json`.
type codeJSON struct {
	Code        int    `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameter   bool   `json:"parameter,omitempty"`
}

// NewCodesCommand creates the codes command, which prints the trigger code
// table.
func NewCodesCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Print the trigger code table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := marker.Table()
			switch format {
			case "tsv":
				return export.WriteTSV(cmd.OutOrStdout(), export.MarkerCodesSheet(table))
			case "json":
				rows := make([]codeJSON, 0, len(table))
				for _, e := range table {
					rows = append(rows, codeJSON{Code: int(e.Code), Name: e.Name, Description: e.Description, Parameter: e.Parameter})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return fmt.Errorf("invalid format %q: must be one of [tsv json]", format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "tsv", "output format (tsv|json)")
	return cmd
}
