package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCodeFileName(t *testing.T) {
	tests := []struct {
		language Language
		expected string
		hasError bool
	}{
		{LanguageJavaScript, "main.js", false},
		{LanguageTypeScript, "main.ts", false},
		{LanguagePython, "main.py", false},
		{LanguageGo, "main.go", false},
		{LanguageRust, "main.rs", false},
		{"cobol", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.language), func(t *testing.T) {
			result, err := GetCodeFileName(tt.language)
			if tt.hasError {
				require.ErrorIs(t, err, ErrUnsupportedLanguage)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestGetRunCommand(t *testing.T) {
	tests := []struct {
		language Language
		expected []string
		hasError bool
	}{
		{LanguageJavaScript, []string{"node", "main.js"}, false},
		{LanguagePython, []string{"sh", "-c", "pip install -r requirements.txt 2>/dev/null || true && python main.py"}, false},
		{LanguageGo, []string{"sh", "-c", "go mod init main 2>/dev/null || true && go run main.go"}, false},
		{"invalid", nil, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.language), func(t *testing.T) {
			result, err := GetRunCommand(tt.language)
			if tt.hasError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}

	t.Run("ReturnsCopy", func(t *testing.T) {
		cmd, err := GetRunCommand(LanguageJavaScript)
		require.NoError(t, err)
		cmd[0] = "deno"

		again, err := GetRunCommand(LanguageJavaScript)
		require.NoError(t, err)
		assert.Equal(t, "node", again[0])
	})
}

func TestDefaultImage(t *testing.T) {
	images := map[Language]string{
		LanguageJavaScript: "node:18-alpine",
		LanguageTypeScript: "node:18-alpine",
		LanguagePython:     "python:3.11-alpine",
		LanguageGo:         "golang:1.20-alpine",
		LanguageRust:       "rust:1.70-alpine",
	}
	for language, expected := range images {
		img, err := DefaultImage(language)
		require.NoError(t, err)
		assert.Equal(t, expected, img, language)
	}

	_, err := DefaultImage("fortran")
	assert.Error(t, err)
}

func TestSupportedLanguages(t *testing.T) {
	assert.Equal(t, []Language{"go", "javascript", "python", "rust", "typescript"}, SupportedLanguages())
	assert.True(t, LanguageRust.Valid())
	assert.False(t, Language("").Valid())
	assert.False(t, Language("Python").Valid())
}

func TestFilePermissionConstants(t *testing.T) {
	assert.Equal(t, 0755, int(DirPermission))
	assert.Equal(t, 0644, int(FilePermission))
	assert.Equal(t, 124, ExitCodeTimeout)
	assert.Equal(t, 30000, DefaultTimeoutMs)
}
