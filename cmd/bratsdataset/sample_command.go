package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bratsdataset/internal/models"
	"bratsdataset/pkg/dataset"
	"bratsdataset/pkg/visualization"
)

func newSampleCommand(ctx *commandContext) *cobra.Command {
	var source string
	var previewDir string
	var axis string

	cmd := &cobra.Command{
		Use:   "sample <index>",
		Short: "Assemble one sample and describe it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("sample index %q is not an integer", args[0])
			}

			cat, err := ctx.buildCatalog(cmd, source)
			if err != nil {
				return err
			}
			ds, err := ctx.buildDataset(cmd, cat)
			if err != nil {
				return err
			}

			record, part, err := ds.Locate(index)
			if err != nil {
				return err
			}
			patient, err := ds.Record(record)
			if err != nil {
				return err
			}
			sample, err := ds.Get(index)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sample %d of %d (%s strategy)\n", index, ds.Len(), ds.Strategy().Name())
			fmt.Fprintf(out, "Patient: %s (record %d, part %d)\n", patient.ID, record, part)
			fmt.Fprintf(out, "Path: %s\n", sample.Path)
			fmt.Fprintf(out, "Image shape: %v\n", sample.Image.Shape)
			if ds.Modalities().HasLabel() {
				positive := positiveVoxels(sample.Label)
				fmt.Fprintf(out, "Label shape: %v\n", sample.Label.Shape)
				fmt.Fprintf(out, "Label voxels: %d positive of %d (%.2f%%)\n",
					positive, sample.Label.Len(), 100*float64(positive)/float64(sample.Label.Len()))
			} else {
				fmt.Fprintln(out, "Label: image (no ground truth)")
			}

			if previewDir != "" {
				n, err := writePreview(sample, ds, patient.ID, previewDir, axis)
				if err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
				fmt.Fprintf(out, "Wrote %d preview images to %s\n", n, previewDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Override the configured dataset source")
	cmd.Flags().StringVar(&previewDir, "preview", "", "Write the middle slice of every channel as PNG into this directory")
	cmd.Flags().StringVar(&axis, "axis", "z", "Slice axis for previews (x, y or z)")
	return cmd
}

func positiveVoxels(t *models.Tensor) int {
	n := 0
	for _, v := range t.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

// writePreview saves the middle slice along axis of each image channel and,
// when there is ground truth, of the label
func writePreview(sample *models.Sample, ds *dataset.Dataset, patient, dir, axis string) (int, error) {
	type layer struct {
		name   string
		tensor *models.Tensor
	}
	layers := []layer{{"image", sample.Image}}
	if ds.Modalities().HasLabel() {
		layers = append(layers, layer{"label", sample.Label})
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	names := ds.Modalities().Modalities
	written := 0
	for _, l := range layers {
		viewer, err := visualization.NewViewer(l.tensor)
		if err != nil {
			return written, err
		}
		extent, err := viewer.Extent(axis)
		if err != nil {
			return written, err
		}
		for c := 0; c < viewer.Channels(); c++ {
			img, err := viewer.ExtractSlice(c, axis, extent/2)
			if err != nil {
				return written, err
			}
			name := l.name
			if l.name == "image" && c < len(names) {
				name = names[c]
			}
			file := fmt.Sprintf("%s_%s_%s%03d.png", patient, name, strings.ToLower(axis), extent/2)
			if err := visualization.SaveSlice(img, filepath.Join(dir, file)); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}
