package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/composer"
	"github.com/conneroisu/playpen/internal/persistence"
	"github.com/conneroisu/playpen/internal/sandbox"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose markup, style and script into one HTML document",
	Long: `Compose the three sources into the document the preview frame shows. Sources
come from files or from a directory project.

Examples:
  playpen compose --html index.html --css style.css --js script.js
  playpen compose --dir ./site --out preview.html
  playpen compose --dir ./site --probe    # Also run the script and print its console`,
	Args: cobra.NoArgs,
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().String("html", "", "Markup file")
	composeCmd.Flags().String("css", "", "Style file")
	composeCmd.Flags().String("js", "", "Script file")
	composeCmd.Flags().StringP("dir", "d", "", "Directory project to compose")
	composeCmd.Flags().StringP("out", "o", "", "Write the document here instead of stdout")
	composeCmd.Flags().Bool("probe", false, "Run the script in the sandbox runtime and print its console")
	composeCmd.MarkFlagsMutuallyExclusive("dir", "html")
	composeCmd.MarkFlagsMutuallyExclusive("dir", "css")
	composeCmd.MarkFlagsMutuallyExclusive("dir", "js")

	for _, name := range []string{"html", "css", "js"} {
		AddFlagValidation(composeCmd, name, ValidateFileExists)
	}
	AddFlagValidation(composeCmd, "dir", ValidateDir)
}

func runCompose(cmd *cobra.Command, args []string) error {
	src, err := readSources(cmd)
	if err != nil {
		return err
	}

	for _, b := range composer.Breakouts(src) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s buffer closes its <%s> block early at byte %d\n",
			b.Buffer.Label(), b.Tag, b.Offset)
	}

	doc := composer.ComposeSources(src)
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := os.WriteFile(out, []byte(doc.String()), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), doc.String())
	}

	if probe, _ := cmd.Flags().GetBool("probe"); probe {
		return probeScript(cmd, src.JS)
	}
	return nil
}

func readSources(cmd *cobra.Command) (buffer.Sources, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		project, err := persistence.NewDirStore(dir).Load(cmd.Context(), "", "")
		if err != nil {
			return buffer.Sources{}, err
		}
		return project.Sources, nil
	}

	var src buffer.Sources
	for _, f := range []struct {
		flag string
		dst  *string
	}{{"html", &src.HTML}, {"css", &src.CSS}, {"js", &src.JS}} {
		path, _ := cmd.Flags().GetString(f.flag)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return buffer.Sources{}, fmt.Errorf("read %s: %w", path, err)
		}
		*f.dst = string(data)
	}
	return src, nil
}

func probeScript(cmd *cobra.Command, script string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := sandbox.NewRuntime(sandbox.DefaultConfig()).Run(ctx, script)
	if err != nil && result == nil {
		return err
	}

	w := cmd.ErrOrStderr()
	for _, entry := range result.Console {
		fmt.Fprintf(w, "console.%s: %s\n", entry.Level, entry.Message)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "error: %s\n", result.Error)
	}
	if result.Interrupted {
		fmt.Fprintf(w, "interrupted after %s\n", result.Duration)
	}
	return nil
}
