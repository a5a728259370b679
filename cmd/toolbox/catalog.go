package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/catalog"
	"github.com/vthunder/toolbox/internal/types"
)

func catalogCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Write the tool catalog (JSON and Markdown) for the in-process tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := &app{cfg: cfg}
			reg, err := a.localRegistry()
			if err != nil {
				return failed(cmd, "Could not build the tool registry.", err)
			}
			if outDir == "" {
				outDir = cfg.CatalogDir()
			}

			c := catalog.Build(reg, time.Now())
			jsonPath, mdPath, err := catalog.Write(outDir, c)
			if err != nil {
				return failed(cmd, "Could not write the catalog.", err)
			}
			env := types.NewEnvelope(fmt.Sprintf("Catalog written: %d tools.", c.ToolCount))
			env.Result = map[string]any{
				"json_path":  jsonPath,
				"md_path":    mdPath,
				"tool_count": c.ToolCount,
				"tools":      c.Tools,
			}
			return emit(cmd, env)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: <state>/catalog)")
	return cmd
}
