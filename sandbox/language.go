package sandbox

import (
	"fmt"
	"sort"
)

// WorkspaceMount is where the namespace directory appears inside the container.
const WorkspaceMount = "/workspace"

type languageSpec struct {
	extension string
	image     string
	command   []string
	npm       bool
}

var languages = map[Language]languageSpec{
	LanguageJavaScript: {
		extension: "js",
		image:     "node:18-alpine",
		command:   []string{"node", "main.js"},
		npm:       true,
	},
	LanguageTypeScript: {
		extension: "ts",
		image:     "node:18-alpine",
		command:   []string{"sh", "-c", "npm install -g typescript && npm install && npx tsc main.ts && node main.js"},
		npm:       true,
	},
	LanguagePython: {
		extension: "py",
		image:     "python:3.11-alpine",
		command:   []string{"sh", "-c", "pip install -r requirements.txt 2>/dev/null || true && python main.py"},
	},
	LanguageGo: {
		extension: "go",
		image:     "golang:1.20-alpine",
		command:   []string{"sh", "-c", "go mod init main 2>/dev/null || true && go run main.go"},
	},
	LanguageRust: {
		extension: "rs",
		image:     "rust:1.70-alpine",
		command:   []string{"sh", "-c", "cargo init --name main . 2>/dev/null || true && cargo run"},
	},
}

// Valid reports whether the language is supported.
func (l Language) Valid() bool {
	_, ok := languages[l]
	return ok
}

// SupportedLanguages returns the supported languages in lexical order.
func SupportedLanguages() []Language {
	out := make([]Language, 0, len(languages))
	for l := range languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func lookupLanguage(language Language) (languageSpec, error) {
	spec, ok := languages[language]
	if !ok {
		return languageSpec{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return spec, nil
}

// GetCodeFileName returns the entry-point filename for the language
func GetCodeFileName(language Language) (string, error) {
	spec, err := lookupLanguage(language)
	if err != nil {
		return "", err
	}
	return "main." + spec.extension, nil
}

// GetRunCommand returns the container command for the language
func GetRunCommand(language Language) ([]string, error) {
	spec, err := lookupLanguage(language)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), spec.command...), nil
}

// DefaultImage returns the base runtime image for the language
func DefaultImage(language Language) (string, error) {
	spec, err := lookupLanguage(language)
	if err != nil {
		return "", err
	}
	return spec.image, nil
}
