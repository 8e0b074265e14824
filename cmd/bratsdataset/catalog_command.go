package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bratsdataset/pkg/manifest"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	var exportPath string

	cmd := &cobra.Command{
		Use:   "catalog [source]",
		Short: "Discover patient records and list them",
		Long: "Walks the search root for patient directories holding every expected modality.\n" +
			"A source ending in .txt is read as an allow-list of patient IDs and its directory\n" +
			"becomes the search root.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source string
			if len(args) == 1 {
				source = args[0]
			}
			cat, err := ctx.buildCatalog(cmd, source)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			expected := cat.Modalities().Expected()

			rows := make([][]string, 0, cat.Len())
			var total uint64
			for i, r := range cat.Records() {
				var size uint64
				for _, m := range expected {
					if info, err := os.Stat(r.Path(m)); err == nil {
						size += uint64(info.Size())
					}
				}
				total += size
				dir, err := filepath.Rel(cat.Root(), r.Dir)
				if err != nil {
					dir = r.Dir
				}
				rows = append(rows, []string{
					strconv.Itoa(i),
					r.ID,
					dir,
					strconv.Itoa(len(r.Files)),
					humanize.Bytes(size),
				})
			}

			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Patient", "Directory", "Files", "Size"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
				))
			}
			fmt.Fprintf(out, "%d records under %s (%s)\n", cat.Len(), cat.Root(), humanize.Bytes(total))
			fmt.Fprintf(out, "Modalities: %s\n", strings.Join(expected, ", "))
			fmt.Fprintf(out, "Allow-list: %s\n", yesNo(cat.AllowList() != nil))
			if unmatched := cat.Unmatched(); len(unmatched) > 0 {
				fmt.Fprintf(out, "Allow-listed IDs without a directory: %s\n", strings.Join(unmatched, ", "))
			}

			if exportPath != "" {
				runID, err := manifest.Export(cmd.Context(), exportPath, cat)
				if err != nil {
					return fmt.Errorf("export manifest: %w", err)
				}
				fmt.Fprintf(out, "Exported run %d to %s\n", runID, exportPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&exportPath, "export", "", "Record the catalog in a SQLite manifest database")
	return cmd
}
