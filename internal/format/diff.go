package format

import (
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"
)

// EditDiff renders the unified diff of an Edit tool call so it can be shown
// inline next to the message that made it.
func EditDiff(path, oldString, newString string) string {
	if oldString == newString {
		return ""
	}
	name := filepath.Base(path)
	if name == "." || name == "" {
		name = "file"
	}
	return udiff.Unified("a/"+name, "b/"+name, withNewline(oldString), withNewline(newString))
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
