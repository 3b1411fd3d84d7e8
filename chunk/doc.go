/*
	Package chunk holds the identity side of chunked volumes: the integer grid of one
	resolution level (Layout), the description of a volume at that level (Spec), the
	per-level chunk cache (Source), and the (source, grid position) pairs that cross the
	boundary to the chunk manager (Chunk).

	Layouts are immutable once created and shared by every render layer that needs the
	same grid.  They are interned by a Registry so identical geometry yields the same
	*Layout pointer, which lets the scheduler group sources by layout with a plain map.
*/
package chunk
