/*
Package provenance records how layer content was derived and compiles that
record into a replay plan.

Every action that changes live layers records a Step: the provenance ids it
read, the ids it produced, the ids it invalidated, and its command line with
input layer ids replaced by ${N} placeholders. Steps form a DAG over
provenance ids.

TrailFor walks back from target ids through producers and their inputs.
Trail.Build orders the result topologically and counts its roots; a trail
with other than one root is ambiguous and is never replayed. Compile turns a
valid trail into a Plan: steps whose outputs all still exist are skipped, live
inputs are used as they are unless a replayed step rewrites them, in which
case they are duplicated into the replay sandbox first.

	trail := log.TrailFor(target)
	plan, err := provenance.Compile(trail, []types.ProvenanceID{target}, exists)
	for _, inv := range plan.Invocations {
		cmd, err := inv.Command(resolve)
		...
	}

Parameters an action only knows once its filter finished, such as automatic
threshold bounds, are written back with Log.Update before the step is
replayed or persisted:

	err := log.Update(stepID, provenance.Placeholders(final, inputIDs).String())
*/
package provenance
