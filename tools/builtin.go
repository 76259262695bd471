package tools

import "github.com/m4xw311/thinkact/config"

// Builtin returns the local actions enabled by cfg. Names listed in
// cfg.Actions select a subset; an empty list enables all of them.
func Builtin(cfg *config.Config) []Action {
	all := []Action{
		ReadFileAction(cfg.FilesystemAccess),
		WriteFileAction(cfg.FilesystemAccess),
		ListFilesAction(cfg.FilesystemAccess, "."),
		ExecuteCommandAction(cfg.AllowedCommands),
	}
	if len(cfg.Actions) == 0 {
		return all
	}

	enabled := make(map[string]bool, len(cfg.Actions))
	for _, name := range cfg.Actions {
		enabled[name] = true
	}
	out := all[:0]
	for _, a := range all {
		if enabled[a.Name] {
			out = append(out, a)
		}
	}
	return out
}
