package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/example/go-musicgen/internal/model"
	"github.com/spf13/cobra"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Download, list and verify MusicGen checkpoints",
	}

	cmd.AddCommand(newModelDownloadCmd(), newModelListCmd(), newModelVerifyCmd())

	return cmd
}

// newModelListCmd prints every known variant and how many of its pinned
// files are present under the models root.
func newModelListCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List model variants and their local status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "VARIANT\tFILES\tSTATUS\tDIR")

			for _, variant := range model.Variants() {
				m, err := model.PinnedManifest(variant)
				if err != nil {
					return err
				}

				dir := filepath.Join(root, "musicgen-"+variant)

				missing, err := model.MissingFiles(dir, variant)
				if err != nil {
					return err
				}

				status := "ready"
				if len(missing) > 0 {
					status = fmt.Sprintf("missing %d", len(missing))
				}

				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", variant, len(m.Files), status, dir)
			}

			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&root, "root", "models", "Directory holding musicgen-<variant> model dirs")

	return cmd
}
