// Package ralph implements the story loop of a workflow run.
//
// The loop works through a run's stories in declaration order. Each attempt
// asks the implementer agent to do the work and, when a verifier is
// configured, asks the verifier for a PASS/FAIL verdict. A failed attempt
// puts the story back in the queue with the verifier's feedback until its
// retries run out.
//
// # Basic Usage
//
//	res, err := ralph.Loop(ctx, ralph.Config{
//	    RunID:       r.ID,
//	    StepID:      "implement",
//	    Implementer: "coder",
//	    Verifier:    "verifier",
//	    Adapter:     adapter,
//	    Recorder:    recorder,
//	}, r)
//
// Every attempt is recorded in the ledger as loop_start followed by
// loop_pass or loop_fail, and a story that runs out of retries gets a final
// loop_exhausted event.
//
// # Iteration Budget
//
// The run's Iteration counter is bumped when an attempt starts and given
// back when the attempt is retried, so retries never consume the budget.
// The loop stops once Iteration reaches MaxIterations.
package ralph
