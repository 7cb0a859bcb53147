package models

// ReplicaInfo describes one replica of a database.
type ReplicaInfo struct {
	Address   Address `cbor:"address"`
	Primary   bool    `cbor:"primary"`
	Preferred bool    `cbor:"preferred"`
	// Term increases every time a new primary is elected.
	Term int64 `cbor:"term"`
}

// DatabaseInfo is the replica set of one database.
// It is replaced as a whole whenever the topology is refreshed.
type DatabaseInfo struct {
	Name     string        `cbor:"name"`
	Replicas []ReplicaInfo `cbor:"replicas"`
}

// Primary returns the primary replica with the highest term.
func (d DatabaseInfo) Primary() (ReplicaInfo, bool) {
	var (
		best  ReplicaInfo
		found bool
	)
	for _, r := range d.Replicas {
		if r.Primary && (!found || r.Term > best.Term) {
			best, found = r, true
		}
	}
	return best, found
}

// Preferred returns the preferred replica with the highest term.
func (d DatabaseInfo) Preferred() (ReplicaInfo, bool) {
	var (
		best  ReplicaInfo
		found bool
	)
	for _, r := range d.Replicas {
		if r.Preferred && (!found || r.Term > best.Term) {
			best, found = r, true
		}
	}
	return best, found
}

// Clone returns a deep copy.
func (d DatabaseInfo) Clone() DatabaseInfo {
	replicas := make([]ReplicaInfo, len(d.Replicas))
	copy(replicas, d.Replicas)
	return DatabaseInfo{Name: d.Name, Replicas: replicas}
}
