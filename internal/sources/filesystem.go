package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// FilesystemHandler resolves paths within a configured base directory and
// enforces an allow-listed extension set.
type FilesystemHandler struct {
	baseDir string
}

// NewFilesystemHandler constructs a FilesystemHandler rooted at baseDir.
func NewFilesystemHandler(baseDir string) *FilesystemHandler {
	return &FilesystemHandler{baseDir: baseDir}
}

func (h *FilesystemHandler) Validate(cfg map[string]any) error {
	path, ok := cfg["path"].(string)
	if !ok || path == "" {
		return fmt.Errorf("filesystem source requires a non-empty %q string", "path")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("filesystem source path %q may not contain %q", path, "..")
	}
	return nil
}

func (h *FilesystemHandler) Load(_ context.Context, cfg map[string]any, _ LoadContext) (Content, error) {
	path, _ := cfg["path"].(string)
	ext := strings.ToLower(filepath.Ext(path))
	allowed := allowedExtensions(cfg)
	if len(allowed) > 0 && !lo.Contains(allowed, ext) {
		return Content{}, fmt.Errorf("extension %q is not in the allow-list for this source", ext)
	}

	full := filepath.Join(h.baseDir, filepath.Clean("/"+path))
	data, err := os.ReadFile(full)
	if err != nil {
		return Content{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Content{Text: string(data), Meta: map[string]any{"path": path, "bytes": len(data)}}, nil
}

func allowedExtensions(cfg map[string]any) []string {
	raw, ok := cfg["allowedExtensions"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
