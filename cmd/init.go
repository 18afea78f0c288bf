package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/config"
	"github.com/conneroisu/playpen/internal/persistence"
)

var initCmd = &cobra.Command{
	Use:     "init [directory]",
	Aliases: []string{"i"},
	Short:   "Write a default configuration file",
	Long: `Write ` + config.FileName + ` with every option at its default value. With
--project, also create an empty directory project next to it.

Examples:
  playpen init                 # .playpen.yml in the current directory
  playpen init site --project  # site/.playpen.yml plus starter sources`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration file")
	initCmd.Flags().Bool("project", false, "Create a starter index.html, style.css and script.js")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")
	project, _ := cmd.Flags().GetBool("project")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	if project {
		cfg.Editor.ProjectDir = "."
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)

	if project {
		if err := persistence.NewDirStore(dir).Save(cmd.Context(), "", "", starterSources); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created project in %s\n", dir)
	}
	return nil
}

var starterSources = buffer.Sources{
	HTML: "<h1>Hello, playpen</h1>\n<p id=\"out\"></p>\n",
	CSS:  "body { font-family: sans-serif; margin: 2rem; }\n",
	JS:   "document.getElementById(\"out\").textContent = \"Edited \" + new Date().toLocaleTimeString();\nconsole.log(\"ready\");\n",
}
