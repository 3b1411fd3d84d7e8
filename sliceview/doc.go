/*
	Package sliceview decides which chunks a 2D slice through a multi-resolution volume needs
	and in what order they should be fetched.

	A SliceView holds the viewport (size, viewport-to-data transform and voxel size) and the
	visible render layers.  Every change to that state only marks the view dirty; the owner
	calls Recompute once per tick, which re-emits the complete request set to a
	ChunkRequester.  Visible chunks are requested in the tier given by the view's visibility,
	prefetch chunks always in the prefetch tier.

	Viewport coordinates are pixels with the origin at the viewport center.  The
	viewport-to-data transform maps them to global coordinates.
*/
package sliceview
