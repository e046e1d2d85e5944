package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteReport creates path and hands it to render
func WriteReport(path string, render func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()
	if err := render(f); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
