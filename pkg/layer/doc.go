/*
Package layer defines the volume layer, its lock state machine, layer groups
and checkpoints.

A Layer's identity, kind and grid never change after creation. Its data block
is immutable and replaced whole through Install, which bumps the layer's
generation. The lock Guard, group back-reference and render parameters are
owned by the layer manager and only touched with the manager's mutex held.

Lock states:

	Available ──AcquireUse──▶ InUse(N) ──Release──▶ Available
	Available ──AcquireProcessing──▶ Processing(1) ──Release──▶ Available
	Available | Processing(own key) ──AcquireDeletion──▶ Deleting (terminal)

Checkpoints capture either a full block or a z-slice slab and can be encoded
to an opaque blob with MarshalBinary for the storage layer.
*/
package layer
