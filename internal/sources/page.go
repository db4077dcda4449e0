package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PageHandler resolves a bundled content page (pages/<lang>/<slug>.jsx under
// the configured base directory) so its text can be inlined into a prompt.
type PageHandler struct {
	baseDir string
}

// NewPageHandler constructs a PageHandler rooted at baseDir.
func NewPageHandler(baseDir string) *PageHandler {
	return &PageHandler{baseDir: baseDir}
}

func (h *PageHandler) Validate(cfg map[string]any) error {
	slug, ok := cfg["slug"].(string)
	if !ok || slug == "" {
		return fmt.Errorf("page source requires a non-empty %q string", "slug")
	}
	if strings.Contains(slug, "..") || strings.ContainsAny(slug, `/\`) {
		return fmt.Errorf("page source slug %q may not contain path separators or %q", slug, "..")
	}
	if lang, ok := cfg["lang"].(string); ok && strings.ContainsAny(lang, `./\`) {
		return fmt.Errorf("page source lang %q may not contain path separators", lang)
	}
	return nil
}

func (h *PageHandler) Load(_ context.Context, cfg map[string]any, _ LoadContext) (Content, error) {
	slug, _ := cfg["slug"].(string)
	lang, _ := cfg["lang"].(string)
	if lang == "" {
		lang = "en"
	}

	full := filepath.Join(h.baseDir, lang, slug+".jsx")
	data, err := os.ReadFile(full)
	if err != nil {
		return Content{}, fmt.Errorf("read page %s/%s: %w", lang, slug, err)
	}
	return Content{Text: string(data), Meta: map[string]any{"lang": lang, "slug": slug, "bytes": len(data)}}, nil
}
