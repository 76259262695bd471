package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/thinkact/config"
	"github.com/m4xw311/thinkact/errors"
)

// filesystem holds the access rules shared by the file actions.
type filesystem struct {
	access config.FilesystemAccess
	root   string
}

func (fs filesystem) checkHidden(path string) error {
	hidden, err := isPathRestricted(filepath.ToSlash(filepath.Clean(path)), fs.access.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	return nil
}

// ReadFileAction reads the entire content of a file.
func ReadFileAction(access config.FilesystemAccess) Action {
	fs := filesystem{access: access}
	return Action{
		Name:        "read_file",
		Description: "Reads the entire content of a file.",
		Parameters: map[string]Param{
			"path": {Type: "string", Description: "Path of the file to read"},
		},
		Returns: "The file content as text",
		Example: `{"name": "read_file", "parameters": {"path": "README.md"}}`,
		Handler: func(ctx context.Context, input string) (string, error) {
			path, ok := ParseInput(input).Primary("path")
			if !ok {
				return "", errors.New("missing or invalid 'path' argument")
			}
			if err := fs.checkHidden(path); err != nil {
				return "", err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return "", errors.Wrapf(err, "failed to read file '%s'", path)
			}
			return string(content), nil
		},
	}
}

// WriteFileAction replaces a file's content.
func WriteFileAction(access config.FilesystemAccess) Action {
	fs := filesystem{access: access}
	return Action{
		Name:        "write_file",
		Description: "Writes content to a file, replacing it entirely.",
		Parameters: map[string]Param{
			"path":    {Type: "string", Description: "Path of the file to write"},
			"content": {Type: "string", Description: "Full new content of the file"},
		},
		Returns: "A confirmation with the number of bytes written",
		Example: `{"name": "write_file", "parameters": {"path": "notes.txt", "content": "hello"}}`,
		Handler: func(ctx context.Context, input string) (string, error) {
			in := ParseInput(input)
			path, pathOk := in.String("path")
			content, contentOk := in.String("content")
			if !pathOk || !contentOk {
				return "", errors.New("missing or invalid 'path' or 'content' arguments")
			}
			if err := fs.checkHidden(path); err != nil {
				return "", err
			}
			readOnly, err := isPathRestricted(filepath.ToSlash(filepath.Clean(path)), fs.access.ReadOnly)
			if err != nil {
				return "", err
			}
			if readOnly {
				return "", errors.New("access denied: path '%s' is read-only", path)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return "", errors.Wrapf(err, "failed to write to file '%s'", path)
			}
			return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
		},
	}
}

// ListFilesAction lists files under root matching a doublestar pattern.
// Hidden paths are left out.
func ListFilesAction(access config.FilesystemAccess, root string) Action {
	fs := filesystem{access: access, root: root}
	return Action{
		Name:        "list_files",
		Description: "Lists files matching a glob pattern such as 'src/**/*.go'.",
		Parameters: map[string]Param{
			"pattern": {Type: "string", Description: "Glob pattern relative to the working directory"},
		},
		Returns: "Matching paths, one per line",
		Example: `{"name": "list_files", "parameters": {"pattern": "**/*.md"}}`,
		Handler: func(ctx context.Context, input string) (string, error) {
			pattern, ok := ParseInput(input).Primary("pattern")
			if !ok {
				pattern = "*"
			}
			matches, err := doublestar.Glob(os.DirFS(fs.root), pattern, doublestar.WithFilesOnly())
			if err != nil {
				return "", errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
			}
			visible := matches[:0]
			for _, m := range matches {
				if fs.checkHidden(m) == nil {
					visible = append(visible, m)
				}
			}
			if len(visible) == 0 {
				return "No files match " + pattern, nil
			}
			return strings.Join(visible, "\n"), nil
		},
	}
}
