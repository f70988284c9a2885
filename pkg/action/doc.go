/*
Package action defines the Action interface, its flat parameter list, the
per-submission Context and the Result notifier.

An action moves through Created → Validated → Running → Completed or Failed.
Validate must not change any engine state. Run acquires layer locks, records
undo and provenance from the pre-run state, starts any long computation and
returns at once with the prospective output layer ids. A script that needs the
computation finished waits on the Result.

Actions are fully described by a name and Params, which export to and import
from a single command line:

	Threshold target='layer_1' lower='0.2' upper='0.8'

The Registry turns such lines back into actions for scripts and provenance
replay.
*/
package action
