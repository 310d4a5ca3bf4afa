// Package resource accounts for the memory, worker slots and IO bandwidth used
// by index builds, loads and queries.
//
// Every allocation an operation makes on behalf of an index (vector buffers,
// the index structure, the id map, a loaded handle) is taken as a Reservation
// and released on every exit path. Outstanding reports how many reservations
// are still live, which makes leaks on error paths observable:
//
//	res, err := rc.Reserve(resource.KindVectors, n*dim*4)
//	if err != nil {
//	    return err // ErrMemoryLimitExceeded when the limit would be crossed
//	}
//	defer res.Release()
//
// All methods handle a nil Controller gracefully: reservations are still
// counted, limits are not enforced.
package resource
