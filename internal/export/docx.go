package export

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DOCXRenderer converts HTML with pandoc.
type DOCXRenderer struct {
	// Binary defaults to "pandoc".
	Binary string
}

func (r DOCXRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	binary := r.Binary
	if binary == "" {
		binary = "pandoc"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%w: %s not installed", ErrDOCXDependencyMissing, binary)
	}

	cmd := exec.CommandContext(ctx, binary, "-f", "html", "-t", "docx", "--standalone", "-o", "-")
	cmd.Stdin = strings.NewReader(html)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("pandoc execution failed: %w", err)
	}
	return output, nil
}
