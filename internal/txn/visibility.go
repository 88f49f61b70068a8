package txn

// Visible implements the textbook PostgreSQL-style visibility check: a
// version with (xmin, xmax) is visible to snapshot s under clog iff its
// creator is visible and its superseder (if any) is not.
func Visible(xmin, xmax uint64, s *Snapshot, m *Manager) bool {
	if !creatorVisible(xmin, s, m) {
		return false
	}
	if xmax == 0 {
		return true
	}
	return !supersederVisible(xmax, s, m)
}

// creatorVisible decides whether xmin's writes are visible to s: either
// xmin is the snapshot's own transaction (own-writes are always visible),
// or xmin committed strictly before s was taken and was not itself
// in-progress at that moment.
func creatorVisible(xmin uint64, s *Snapshot, m *Manager) bool {
	if xmin == s.TxID {
		return true
	}
	if xmin == 0 {
		return true
	}
	if m.Status(xmin) != StatusCommitted {
		return false
	}
	if s.IsActive(xmin) {
		return false
	}
	return xmin < s.TxID
}

// supersederVisible decides whether xmax's delete/update is visible to s.
// A version's own same-transaction delete is visible to the deleting
// transaction itself (it sees its own write and must not see the version).
func supersederVisible(xmax uint64, s *Snapshot, m *Manager) bool {
	if xmax == s.TxID {
		return true
	}
	if m.Status(xmax) != StatusCommitted {
		return false
	}
	if s.IsActive(xmax) {
		return false
	}
	return xmax < s.TxID
}
