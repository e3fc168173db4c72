package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// pandocRenderer converts HTML to DOCX using the pandoc binary at path.
func pandocRenderer(path string) Renderer {
	if path == "" {
		path = "pandoc"
	}
	return func(ctx context.Context, html string) ([]byte, error) {
		bin, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
		}

		cmd := exec.CommandContext(ctx, bin,
			"-f", "html",
			"-t", "docx",
			"--standalone",
			"-o", "-", // Output to stdout
		)
		cmd.Stdin = strings.NewReader(html)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		output, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(stderr.String()))
			}
			return nil, fmt.Errorf("pandoc execution failed: %w", err)
		}
		return output, nil
	}
}
