// Package terminal implements the command-line interface (CLI) mode for the thinkact agent.
//
// Each line the user types becomes one agent query over the session's
// history. Thoughts and action calls are printed as the agent works, and the
// final answer is appended to the session, which is saved after every turn.
//
// The terminal package is one of the two main interaction modes for thinkact:
//   - Terminal mode: Interactive CLI for direct user interaction
//   - ACP mode: JSON-RPC based protocol for IDE integration
//
// # Usage
//
//	term := terminal.New(agentConfig, sess)
//	term.Verbose = true
//	err := term.Run(ctx, initialPrompt)
//
// # Features
//
//   - Support for initial prompts from command-line arguments
//   - Ctrl-C cancels the running request without leaving the session
//   - Verbose mode prints action arguments and observations
//   - Exit commands (/quit, /exit) for graceful termination
package terminal
