// Package smartagent bundles the prompt templates into the binary.
package smartagent

import (
	"embed"
	"io/fs"
)

//go:embed Prompt/*.yaml
var promptFS embed.FS

// PromptFS exposes the bundled templates rooted at the Prompt directory.
// The prompt store falls back to it when a template is not on disk.
func PromptFS() fs.FS {
	sub, err := fs.Sub(promptFS, "Prompt")
	if err != nil {
		panic(err)
	}
	return sub
}
