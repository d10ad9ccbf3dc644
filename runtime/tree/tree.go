// Package tree holds the in-memory representation of a vault: a rooted
// tree of groups and entries with attributes, properties, and
// per-property change history. The tree is owned by the format engine;
// other packages read it through the engine's Tree accessor and leave
// all writes to the engine.
package tree

// RootParentID is the sentinel parent of root-level groups.
const RootParentID = "0"

// Reserved attribute keys.
const (
	// AttachmentKeyAttribute holds the per-vault attachment key.
	AttachmentKeyAttribute = "bc_attachments_key"
	// GroupRoleAttribute marks special groups; the only defined role
	// is "trash".
	GroupRoleAttribute = "bc_group_role"
	// GroupRoleTrash is the role of the trash group.
	GroupRoleTrash = "trash"
)

// Vault is the root of the tree plus vault-wide metadata.
type Vault struct {
	ID         string
	FormatTag  int
	Attributes map[string]string
	Groups     []*Group
}

// Group is a titled container of entries and child groups.
type Group struct {
	ID         string
	Title      string
	ParentID   string
	ShareID    string
	Attributes map[string]string
	Groups     []*Group
	Entries    []*Entry
}

// Entry is a credential record: user-visible properties, engine
// attributes, and an append-only per-property change history.
type Entry struct {
	ID            string
	ParentGroupID string
	ShareID       string
	Properties    map[string]string
	Attributes    map[string]string
	History       []PropertyChange
}

// PropertyChange is one item of an entry's property history. Old is
// nil when the property did not exist before; New is nil when the
// change is a deletion. TS is milliseconds since the Unix epoch.
type PropertyChange struct {
	Property string
	Old      *string
	New      *string
	TS       int64
}

// New returns an empty vault.
func New() *Vault {
	return &Vault{Attributes: make(map[string]string)}
}

// Clear resets the vault to its empty state.
func (v *Vault) Clear() {
	v.ID = ""
	v.FormatTag = 0
	v.Attributes = make(map[string]string)
	v.Groups = nil
}

// NewGroup returns an empty group under parentID.
func NewGroup(id, parentID string) *Group {
	return &Group{
		ID:         id,
		ParentID:   parentID,
		Attributes: make(map[string]string),
	}
}

// NewEntry returns an empty entry under groupID.
func NewEntry(id, groupID string) *Entry {
	return &Entry{
		ID:            id,
		ParentGroupID: groupID,
		Properties:    make(map[string]string),
		Attributes:    make(map[string]string),
	}
}

// FindGroup locates a group anywhere in the tree.
func (v *Vault) FindGroup(id string) *Group {
	var found *Group
	v.WalkGroups(func(g *Group) bool {
		if g.ID == id {
			found = g
			return false
		}
		return true
	})
	return found
}

// FindEntry locates an entry anywhere in the tree.
func (v *Vault) FindEntry(id string) *Entry {
	var found *Entry
	v.WalkGroups(func(g *Group) bool {
		for _, e := range g.Entries {
			if e.ID == id {
				found = e
				return false
			}
		}
		return true
	})
	return found
}

// ContainsID reports whether any group or entry carries id. Used by
// the create executors to enforce tree-wide ID uniqueness.
func (v *Vault) ContainsID(id string) bool {
	if v.FindGroup(id) != nil {
		return true
	}
	return v.FindEntry(id) != nil
}

// WalkGroups visits every group pre-order. The visitor returns false
// to stop the walk.
func (v *Vault) WalkGroups(visit func(*Group) bool) {
	walkGroups(v.Groups, visit)
}

func walkGroups(groups []*Group, visit func(*Group) bool) bool {
	for _, g := range groups {
		if !visit(g) {
			return false
		}
		if !walkGroups(g.Groups, visit) {
			return false
		}
	}
	return true
}

// AttachGroup appends g under parentID, which must be RootParentID or
// an existing group. Reports whether the parent was found.
func (v *Vault) AttachGroup(g *Group) bool {
	if g.ParentID == RootParentID {
		v.Groups = append(v.Groups, g)
		return true
	}
	parent := v.FindGroup(g.ParentID)
	if parent == nil {
		return false
	}
	parent.Groups = append(parent.Groups, g)
	return true
}

// DetachGroup unlinks the group with id from its parent and returns
// it, or nil when absent. The subtree stays intact on the detached
// group.
func (v *Vault) DetachGroup(id string) *Group {
	if g := detachGroupFrom(&v.Groups, id); g != nil {
		return g
	}
	var detached *Group
	v.WalkGroups(func(g *Group) bool {
		if d := detachGroupFrom(&g.Groups, id); d != nil {
			detached = d
			return false
		}
		return true
	})
	return detached
}

func detachGroupFrom(groups *[]*Group, id string) *Group {
	for i, g := range *groups {
		if g.ID == id {
			*groups = append((*groups)[:i], (*groups)[i+1:]...)
			return g
		}
	}
	return nil
}

// DetachEntry unlinks the entry with id from its group and returns it,
// or nil when absent.
func (v *Vault) DetachEntry(id string) *Entry {
	var detached *Entry
	v.WalkGroups(func(g *Group) bool {
		for i, e := range g.Entries {
			if e.ID == id {
				g.Entries = append(g.Entries[:i], g.Entries[i+1:]...)
				detached = e
				return false
			}
		}
		return true
	})
	return detached
}

// IsDescendant reports whether candidate lies in the subtree rooted at
// g (inclusive). The move-group executor uses it to reject cycles.
func (g *Group) IsDescendant(candidateID string) bool {
	if g.ID == candidateID {
		return true
	}
	return !walkGroups(g.Groups, func(child *Group) bool {
		return child.ID != candidateID
	})
}

// InTrash reports whether the group with groupID, or any of its
// ancestors, is the trash group.
func (v *Vault) InTrash(groupID string) bool {
	id := groupID
	for id != RootParentID && id != "" {
		g := v.FindGroup(id)
		if g == nil {
			return false
		}
		if g.Attributes[GroupRoleAttribute] == GroupRoleTrash {
			return true
		}
		id = g.ParentID
	}
	return false
}
