package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/m4xw311/thinkact/errors"
)

// ExecuteCommandAction runs OS commands that match the allowlist.
func ExecuteCommandAction(allowedCommands []string) Action {
	description := "Executes a shell command. No commands are currently allowed."
	if len(allowedCommands) > 0 {
		var sb strings.Builder
		sb.WriteString("Executes a shell command.\nAllowed command patterns:\n")
		for _, cmd := range allowedCommands {
			fmt.Fprintf(&sb, "- %s\n", cmd)
		}
		description = strings.TrimSuffix(sb.String(), "\n")
	}

	return Action{
		Name:        "execute_command",
		Description: description,
		Parameters: map[string]Param{
			"command": {Type: "string", Description: "Command line to run"},
		},
		Returns: "Combined stdout and stderr of the command",
		Example: `{"name": "execute_command", "parameters": {"command": "ls -la"}}`,
		Handler: func(ctx context.Context, input string) (string, error) {
			command, ok := ParseInput(input).Primary("command")
			if !ok {
				return "", errors.New("missing or invalid 'command' argument")
			}
			if !isCommandAllowed(command, allowedCommands) {
				return "", errors.New("command '%s' is not in the list of allowed commands", command)
			}

			// Basic shell-like execution
			parts := strings.Fields(command)
			cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
			output, err := cmd.CombinedOutput()
			if err != nil {
				return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
			}
			return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
		},
	}
}
