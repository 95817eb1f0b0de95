package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docmill/docmill/internal/domain"
)

// ExecBackend delegates conversion to an external tool invoked as
// "tool <input>" and reads Markdown from its stdout. Any format the tool
// understands is fair game.
type ExecBackend struct {
	toolPath string
}

// NewExecBackend creates a backend around the given converter binary.
func NewExecBackend(toolPath string) *ExecBackend {
	return &ExecBackend{toolPath: toolPath}
}

// Name identifies the backend.
func (b *ExecBackend) Name() string {
	return "exec"
}

// Probe resolves the tool on PATH so a missing binary is caught at startup.
func (b *ExecBackend) Probe() error {
	if strings.TrimSpace(b.toolPath) == "" {
		return domain.ConfigError("exec backend requires a converter tool path", nil)
	}
	if _, err := exec.LookPath(b.toolPath); err != nil {
		return domain.ConfigError(fmt.Sprintf("converter tool not found: %s", b.toolPath), err)
	}
	return nil
}

// Convert runs the tool against path and captures its Markdown output.
func (b *ExecBackend) Convert(ctx context.Context, path string, opts Options) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("stat document: %s", path), err)
	}

	cmd := exec.CommandContext(ctx, b.toolPath, path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, domain.ConversionError(fmt.Sprintf("converter tool failed on %s: %s", path, firstLine(detail)), err)
	}

	markdown := normalizeNewlines(stdout.String())
	if strings.TrimSpace(markdown) == "" {
		return nil, domain.ConversionError(fmt.Sprintf("converter tool produced no output for %s", path), nil)
	}
	if !strings.HasSuffix(markdown, "\n") {
		markdown += "\n"
	}

	return &Result{
		Markdown: markdown,
		Metadata: map[string]string{
			MetaFilename:         filepath.Base(path),
			MetaFileSize:         strconv.FormatInt(info.Size(), 10),
			MetaFileType:         strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			MetaConversionMethod: filepath.Base(b.toolPath),
		},
	}, nil
}

// firstLine keeps error messages to a single line of tool output.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
