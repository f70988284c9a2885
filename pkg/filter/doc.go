/*
Package filter runs long layer computations off the dispatch goroutine.

A Filter is created inside an action's Run. It takes its locks there, while
the action still holds the dispatch goroutine, then Start hands the body to a
goroutine of its own and the action returns immediately:

	Run (dispatch goroutine)          body goroutine
	  LockForUse / LockForProcessing
	  CreateAndLockLayer
	  Start ───────────────────────▶  body(job)
	                                    ReportProgress, CheckAbort
	  finalize (posted back) ◀──────  return Output, err

Finalization installs outputs, releases locks and deletes created layers on
failure. Its outcome is nil on success, ErrAborted when the abort flag was
raised, or a *FilterError wrapping the failure. A failing filter never leaves
partial data in a layer: every output is checked before the first install.

OnFinish runs on the dispatch goroutine after the locks are released and
before the action's asynchronous result completes. Actions use it to record
what the body computed, for example final parameters in the provenance log.
*/
package filter
