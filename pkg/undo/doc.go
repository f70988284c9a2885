/*
Package undo implements the undo and redo stacks.

An action builds an Item from the state before it mutates anything: full or
slice checkpoints of layers it rewrites, ids of layers it creates, deleted
layers with their positions, the filters it starts, the layer numbering
counters and its provenance step. Undo stops the filters, restores the
checkpoints, deletes and re-adds layers, then rolls back the counters and
retracts the provenance step. Redo runs the stored action again through the
dispatcher with an undo buffer source; that run inserts the replacement item,
so alternating undo and redo never grows the stacks.

Checkpoints share immutable data blocks, so capturing a full checkpoint costs
nothing until the layer is rewritten. An action that rewrites only a range
of z slices adds a slice checkpoint instead, which copies just that slab:

	cp, err := layer.NewSliceCheckpoint(l, zmin, zmax)
	item.AddCheckpoint(cp)

Records and Persist expose the stacks as serializable records plus opaque
checkpoint blobs; Load re-hydrates them.
*/
package undo
