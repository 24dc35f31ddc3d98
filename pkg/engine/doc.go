// Package engine runs end-to-end validation of a replication pipeline on the
// Fivetran platform.
//
// # Overview
//
// A validation run moves through a fixed sequence of phases:
//
//  1. Provision - Create a group, a postgres warehouse destination and a
//     postgres source connector (Orchestrator.Run)
//  2. Setup wait - Poll the connector until setup_state is "connected"
//     (Poller.WaitForSetup)
//  3. Schema - Reload the discovered schema, disable excluded columns and
//     submit the write tree with BLOCK_ALL handling (schemafilter)
//  4. Sync wait - Trigger a historical sync and poll until succeeded_at or
//     failed_at is set (Poller.RunHistoricalSync)
//  5. Verify - Optionally check the destination tables (Verifier)
//  6. Teardown - Delete connectors, then the destination, then the group
//     (Orchestrator.Teardown)
//
// A Sweeper removes resources left behind by earlier runs. It deletes every
// connector older than MaxAge and every destination whose owning group is
// older than MaxAge, together with that group.
//
// # Outcomes and Errors
//
// A failed sync is a business outcome: Run returns a RunResult with
// RunStatusFailed and a nil error. Errors are reserved for failed platform
// calls, exhausted wait budgets and cancellation:
//
//	res, err := orch.Run(ctx, req)
//	switch {
//	case engine.IsWaitTimeout(err):
//	    // a WaitOptions bound ran out
//	case err != nil:
//	    log.Error().Str("phase", string(engine.FailedPhase(err))).Err(err).Msg("run failed")
//	case !res.Succeeded():
//	    // the sync or verification failed
//	}
//	_ = orch.Teardown(ctx, res.Provisioned)
//
// # Waiting
//
// Both wait loops fetch first and then sleep DefaultPollInterval between
// fetches. Zero WaitOptions poll until the awaited state shows up or the
// context is cancelled. A MaxAttempts or Timeout bound turns an endless wait
// into a *WaitError matching ErrWaitTimeout.
//
// # Deletion Modes
//
// Teardown and Sweep stop at the first failed deletion by default
// (ModeFailFast). ModeBestEffort attempts every deletion and returns the
// failures joined with errors.Join. Deleting a resource that no longer
// exists always succeeds.
package engine
