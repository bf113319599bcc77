// Package store persists records in a text file, one JSON object per line.
//
// A Store is made of:
//   - a records file, one encoded record per line
//   - a counter file, holding the next identifier to issue (see idalloc)
//
// Records are identified by an integer assigned by Save. Update removes
// the old line and appends the new one at the end of the file, so it
// changes the position of a record in GetAll. Delete keeps the relative
// order of remaining records.
//
// # Basic Usage
//
//	s, err := store.Open[*invoice.Invoice]("./data", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := s.Save(inv)
//	inv, ok, err := s.GetByID(id)
//	err = s.Update(id, inv2)
//	err = s.Delete(id)
//
// Update and Delete on a missing identifier return ErrNotFound.
// GetByID reports a missing identifier with ok == false.
//
// # Thread Safety
//
// A Store is safe for concurrent use. Save, Update and Delete are
// serialized with a lock, reads can run concurrently with each other.
// Update and Delete rewrite the whole file atomically so other
// processes never see a partially written file.
package store
