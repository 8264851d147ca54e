package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourcetap/sourcetap/internal/output"
)

// reportTarget is where a command's rendered report goes: stdout, the file
// named by --out, or <out-dir>/<report>.<ext>.
type reportTarget struct {
	path string
	dir  string
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func reportTargetFromFlags(cmd *cobra.Command) (reportTarget, error) {
	path, err := cmd.Flags().GetString("out")
	if err != nil {
		return reportTarget{}, err
	}
	dir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return reportTarget{}, err
	}
	t := reportTarget{path: strings.TrimSpace(path), dir: strings.TrimSpace(dir)}
	if t.path != "" && t.dir != "" {
		return reportTarget{}, fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	return t, nil
}

func reportExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// resolve returns the file path for report, or "" for stdout.
func (t reportTarget) resolve(report string, format output.Format) (string, error) {
	if t.dir != "" {
		abs, err := filepath.Abs(t.dir)
		if err != nil {
			return "", err
		}
		return filepath.Join(abs, report+"."+reportExtension(format)), nil
	}
	if t.path == "-" {
		return "", nil
	}
	return t.path, nil
}

// write renders body to stdout or atomically replaces the target file.
// It returns the path written, "-" for stdout.
func (t reportTarget) write(stdout io.Writer, report string, format output.Format, body string) (string, error) {
	path, err := t.resolve(report, format)
	if err != nil {
		return "", err
	}
	if path == "" {
		_, err := fmt.Fprintln(stdout, body)
		return "-", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck // no-op after rename

	if _, err := fmt.Fprintln(tmp, body); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
