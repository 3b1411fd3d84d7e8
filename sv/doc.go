/*
	Package sv provides types, constants, and functions that have no other dependencies
	and can be used by all packages within the sliceview scheduler.  This includes integer
	grid points, floating point vectors and transforms, logging, and the error taxonomy
	shared by the chunk, mip, and sliceview layers.
*/
package sv
