/*
Package actions implements the layer actions of the engine: synthetic
layer creation, the threshold, invert, crop and mask filters, layer
bookkeeping (duplicate, delete, activate, move), sandbox management,
undo and redo, filter abort and layer recreation from provenance.

Every action is registered by name in an action.Registry through Register,
so a command line such as

	Threshold target='layer_1' lower='0.5' upper='1'

parses back into the same action. Actions run on the dispatcher goroutine.
Filters take their locks and record provenance and undo from the pre-run
state inside Run, then hand the numeric work to a pkg/filter goroutine; the
returned action.Result completes when the filter is finalized.

Provenance and undo are only recorded in the live project. Actions given a
sandbox parameter work inside that sandbox, which is how RecreateLayer
replays a provenance trail in sandbox 0 before migrating the rebuilt layer
into the live project.
*/
package actions
