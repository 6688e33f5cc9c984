// Package agentloop implements the task-execution agent: a loop that asks a
// model for the next decision, runs the chosen tool inside a sandbox,
// records the outcome and stops when the model declares the task complete
// or the iteration budget runs out.
//
// # Architecture
//
//   - Agent: the think-act-observe state machine (idle, thinking,
//     executing, complete, error). One Run at a time per Agent.
//   - History: the bounded message ledger. System messages survive
//     eviction; observations are never evicted.
//   - Registry: tool lookup and the dispatcher that validates parameters,
//     consults the sandbox and recovers tool panics.
//   - Orchestrator: runs child agents behind a FIFO admission gate and
//     exposes itself to the model as the spawn_subagents tool.
//   - Observer: best-effort lifecycle events for hosts.
//
// # Quick Start
//
//	agent := agentloop.New(client, tools.Default(tools.Options{}),
//	    agentloop.WithLogger(logger),
//	)
//	res := agent.Run(ctx, "Summarize notes.md into summary.txt", []string{"/home/me/notes"})
//	if !res.Success {
//	    log.Fatal(res.Error)
//	}
//	fmt.Println(res.Output)
package agentloop
