package judge

import "strings"

// Judge0 language ids
var languageIDs = map[string]int{
	"javascript": 63, // Node.js
	"python":     71, // Python 3
	"java":       62,
	"cpp":        54,
	"c":          50,
	"csharp":     51,
	"go":         60,
	"rust":       73,
	"kotlin":     78,
	"swift":      83,
}

// LanguageID returns the Judge0 language id of the language name (case insensitive).
func LanguageID(language string) (int, bool) {
	id, ok := languageIDs[strings.ToLower(strings.TrimSpace(language))]
	return id, ok
}
