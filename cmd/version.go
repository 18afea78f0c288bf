package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/playpen/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the playpen version, commit, build time, Go version and platform.

Examples:
  playpen version              # Version, Go and platform
  playpen version --short      # Version only
  playpen version --detailed   # Every build attribute
  playpen version --format json`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().Bool("short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	short, _ := cmd.Flags().GetBool("short")
	detailed, _ := cmd.Flags().GetBool("detailed")
	w := cmd.OutOrStdout()

	switch format {
	case "json":
		return outputVersionJSON(w)
	case "text":
		switch {
		case short:
			fmt.Fprintln(w, version.GetShortVersion())
		case detailed:
			fmt.Fprintln(w, version.GetDetailedVersion())
		default:
			outputVersionDefault(w)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}

func outputVersionDefault(w io.Writer) {
	info := version.GetBuildInfo()

	fmt.Fprintf(w, "playpen %s", info.Version)
	if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
		fmt.Fprintf(w, " (%s)", info.GitCommit[:7])
	}
	if info.Dirty {
		fmt.Fprint(w, " (dirty)")
	}
	fmt.Fprintln(w)

	if !info.BuildTime.IsZero() {
		fmt.Fprintf(w, "Built: %s\n", info.BuildTime.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(w, "Go: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s\n", info.Platform)
}

func outputVersionJSON(w io.Writer) error {
	info := version.GetBuildInfo()
	out := struct {
		*version.BuildInfo
		IsRelease bool `json:"is_release"`
	}{info, version.IsRelease()}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
