// Package agent provides the reasoning loop shared by the thinkact front ends.
//
// An Agent answers one query. Each turn it sends the conversation to its
// model, parses the reply into a thought plus a decision, and either runs an
// action and feeds the observation back, or returns the final answer.
//
// # Architecture
//
//   - Core agent (this package): the loop, cancellation and step tracing
//   - Terminal subpackage (agent/terminal): an interactive command-line front end
//   - ACP subpackage (agent/acp): an Agent Client Protocol server for IDE integration
//
// # Usage
//
//	a, err := agent.New(agent.Config{
//	    Name:         "assistant",
//	    Model:        chain, // *llm.FallbackChain
//	    Registry:     registry,
//	    SystemPrompt: prompt.Build(opts),
//	    Temperature:  0.1,
//	    MaxTurns:     5,
//	    Canceller:    cancellations,
//	    Steps:        steplog.NewSlogLogger(logger, slog.LevelInfo),
//	    Logger:       logger,
//	})
//	if err != nil {
//	    // handle error
//	}
//	res, err := a.Query(ctx, requestID, sess.History())
//	if errors.Is(err, agent.ErrCancelled) {
//	    // the request was cancelled
//	}
//	fmt.Println(res.Answer)
//
// # Outcomes
//
// A query that is not cancelled always yields a Result. Its Status is one of:
//
//   - StatusCompleted: the model gave a final response
//   - StatusDiagnostic: the reply could not be understood, or named an unknown action
//   - StatusBudgetExhausted: MaxTurns actions ran and the model was asked for a summary
//   - StatusFailed: the model could not be reached; Err holds the cause
//
// Action failures do not end a query. The handler error is fed back to the
// model as the observation.
//
// # Cancellation
//
// The Canceller is polled before every model call and after every action.
// Cancellations is the in-memory implementation the front ends share: the
// front end calls Cancel with the request ID and the running Query returns
// a *CancelledError.
//
// # Steps
//
// Every user request, thought, action, observation and response is offered
// to the configured StepLogger. Failures of the logger are logged and
// otherwise ignored.
package agent
