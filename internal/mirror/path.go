package mirror

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/model"
)

var extensions = map[string]string{
	"bash":       "sh",
	"c":          "c",
	"cpp":        "cpp",
	"csharp":     "cs",
	"dart":       "dart",
	"elixir":     "ex",
	"erlang":     "erl",
	"golang":     "go",
	"go":         "go",
	"java":       "java",
	"javascript": "js",
	"kotlin":     "kt",
	"mssql":      "sql",
	"mysql":      "sql",
	"oraclesql":  "sql",
	"php":        "php",
	"postgresql": "sql",
	"python":     "py",
	"python3":    "py",
	"pythondata": "py",
	"racket":     "rkt",
	"ruby":       "rb",
	"rust":       "rs",
	"scala":      "scala",
	"swift":      "swift",
	"typescript": "ts",
}

// Extension maps a judge language name to a file extension. Unknown
// languages get "txt".
func Extension(language string) string {
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(language))]; ok {
		return ext
	}
	return "txt"
}

// PathFor is the deterministic location of an artifact in the mirror:
//
//	<category>/<difficulty>/<question id, 4 digits>-<slug>/solution.<ext>
//
// e.g. algorithms/easy/0001-two-sum/solution.py
func PathFor(a model.MirrorArtifact) (string, error) {
	slug := sanitize(a.Slug)
	if slug == "" {
		return "", apperror.ValidationFailed("slug", "artifact has no problem slug")
	}
	category := sanitize(a.Category)
	if category == "" {
		category = "algorithms"
	}
	difficulty := sanitize(a.Difficulty)
	if difficulty == "" {
		difficulty = "unknown"
	}
	return fmt.Sprintf("%s/%s/%s-%s/solution.%s",
		category, difficulty, padID(a.QuestionID), slug, Extension(a.Language)), nil
}

func padID(id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.Atoi(id); err == nil && n >= 0 {
		return fmt.Sprintf("%04d", n)
	}
	if id == "" {
		return "0000"
	}
	return sanitize(id)
}

// sanitize lowercases s and keeps only [a-z0-9-], folding anything else to a dash.
func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
