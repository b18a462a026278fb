package agents

// RoleIndex holds the live agent IDs of each role in ascending order.
// It is rebuilt at phase boundaries instead of filtering the full
// population inside every phase.
type RoleIndex struct {
	Live   []AgentID
	ByRole [NumRoles][]AgentID
}

// BuildIndex indexes the live agents of pop. pop must be ordered by ID.
func BuildIndex(pop []*Agent) RoleIndex {
	var idx RoleIndex
	idx.Live = make([]AgentID, 0, len(pop))
	for _, a := range pop {
		if !a.Alive {
			continue
		}
		idx.Live = append(idx.Live, a.ID)
		idx.ByRole[a.Role] = append(idx.ByRole[a.Role], a.ID)
	}
	return idx
}

// Count returns the number of live agents holding role r.
func (idx *RoleIndex) Count(r Role) int { return len(idx.ByRole[r]) }

// Of returns the live agents holding role r.
func (idx *RoleIndex) Of(r Role) []AgentID { return idx.ByRole[r] }
