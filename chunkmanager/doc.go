/*
	Package chunkmanager implements the request queue that chunk schedulers feed.

	Requests are upserts keyed by chunk: re-requesting a queued or resident chunk only
	raises its priority.  Schedulers re-emit their whole request set inside UpdatePriorities;
	chunks that are not re-requested during an update move to TierRecent, any download in
	flight for them is cancelled, and the oldest recent chunks are evicted once more than
	MaxRecent have accumulated.

	Downloads run on a pool of workers started by Run.  Payloads are kept in a freecache
	cache keyed by the chunk key.
*/
package chunkmanager
