package types

// DuplicateSet contains files with identical size and content digest.
//
// Members are held as sibling groups: each sibling group is one physical
// file, possibly reachable through several hardlinked paths. A DuplicateSet
// always has at least two sibling groups.
type DuplicateSet struct {
	Size     int64
	Digest   string // Hex-encoded full-content digest
	Siblings CandidateGroup
}

// NewDuplicateSet creates a DuplicateSet from confirmed sibling groups.
func NewDuplicateSet(size int64, digest string, siblings []SiblingGroup) DuplicateSet {
	return DuplicateSet{
		Size:     size,
		Digest:   digest,
		Siblings: NewCandidateGroup(siblings),
	}
}

// Files returns every member path in discovery order.
func (d DuplicateSet) Files() []*FileInfo {
	var files []*FileInfo
	for _, sg := range d.Siblings.Items() {
		files = append(files, sg.Items()...)
	}
	return NewSiblingGroup(files).Items()
}

// Len returns the number of member paths.
func (d DuplicateSet) Len() int {
	n := 0
	for _, sg := range d.Siblings.Items() {
		n += sg.Len()
	}
	return n
}

// Physical returns the number of distinct physical files in the set.
func (d DuplicateSet) Physical() int { return d.Siblings.Len() }

// Reclaimable returns the bytes freed by keeping exactly one physical file.
func (d DuplicateSet) Reclaimable() int64 {
	if d.Physical() < 2 {
		return 0
	}
	return d.Size * int64(d.Physical()-1)
}

// SiblingsOf returns the sibling group containing f, and false if f is not a member.
func (d DuplicateSet) SiblingsOf(f *FileInfo) (SiblingGroup, bool) {
	for _, sg := range d.Siblings.Items() {
		for _, m := range sg.Items() {
			if m == f || m.Path == f.Path {
				return sg, true
			}
		}
	}
	return SiblingGroup{}, false
}

// DuplicateSets is a collection of duplicate sets sorted by first member index.
type DuplicateSets = Sorted[DuplicateSet, int]

// NewDuplicateSets creates sorted DuplicateSets.
func NewDuplicateSets(sets []DuplicateSet) DuplicateSets {
	return NewSorted(sets, func(d DuplicateSet) int {
		return d.Siblings.First().First().Index
	})
}
