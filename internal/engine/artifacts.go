package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"keepalive_engine/internal/model"
)

const (
	artifactScreenshot = "screenshot"
	artifactChallenge  = "captcha"
	artifactError      = "error"
)

// SafeName keeps letters, digits, spaces, '-' and '_' and trims trailing spaces.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// ArtifactName is "<safe name>_<identifier>_<kind>.png".
func ArtifactName(acc model.Account, kind string) string {
	id := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, acc.Account)
	return fmt.Sprintf("%s_%s_%s.png", SafeName(acc.Name), id, kind)
}

func (e *Engine) writeArtifact(acc model.Account, kind string, data []byte) (string, error) {
	if err := os.MkdirAll(e.artifactsDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(e.artifactsDir, ArtifactName(acc, kind))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
