package store

// CheckVersion applies the optimistic rule shared by all stores:
// a write carrying incoming conflicts iff the stored version is newer.
// Writes without an explicit version never conflict.
func CheckVersion(stored, incoming DataVersion) error {
	if incoming == nil || stored == nil {
		return nil
	}
	if stored.NewerThan(incoming) {
		return ErrVersionConflict
	}
	return nil
}
