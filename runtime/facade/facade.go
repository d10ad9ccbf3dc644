// Package facade renders plain-data snapshots of vault contents for
// UI and host code. Facades are value types: mutating one never
// touches the engine's tree.
package facade

import (
	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// TypeVault tags a vault facade.
const TypeVault = "vault"

// Facade is the flattened snapshot of one vault.
type Facade struct {
	Type    string  `json:"type"`
	ID      string  `json:"id"`
	Groups  []Group `json:"groups"`
	Entries []Entry `json:"entries"`
}

// Group is a flat group record; nesting is encoded via ParentID.
type Group struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	ParentID   string            `json:"parentID"`
	Attributes map[string]string `json:"attributes"`
}

// Entry is a flat entry record.
type Entry struct {
	ID         string            `json:"id"`
	GroupID    string            `json:"groupID"`
	Properties map[string]string `json:"properties"`
	Attributes map[string]string `json:"attributes"`
}

// Build flattens a vault tree into a facade. Maps are copied so the
// facade stays stable if the vault mutates afterwards.
func Build(v *tree.Vault) Facade {
	invariant.NotNil(v, "vault")

	f := Facade{
		Type:    TypeVault,
		ID:      v.ID,
		Groups:  []Group{},
		Entries: []Entry{},
	}
	v.WalkGroups(func(g *tree.Group) bool {
		f.Groups = append(f.Groups, Group{
			ID:         g.ID,
			Title:      g.Title,
			ParentID:   g.ParentID,
			Attributes: copyMap(g.Attributes),
		})
		for _, e := range g.Entries {
			f.Entries = append(f.Entries, Entry{
				ID:         e.ID,
				GroupID:    e.ParentGroupID,
				Properties: copyMap(e.Properties),
				Attributes: copyMap(e.Attributes),
			})
		}
		return true
	})
	return f
}

// IsVaultFacade reports whether value is a vault facade: a non-null
// mapping with type "vault", a string id, and both groups and entries
// present. Member types beyond that are not checked.
func IsVaultFacade(value interface{}) bool {
	switch v := value.(type) {
	case Facade:
		return v.Type == TypeVault
	case *Facade:
		return v != nil && v.Type == TypeVault
	case map[string]interface{}:
		if v["type"] != TypeVault {
			return false
		}
		if _, ok := v["id"].(string); !ok {
			return false
		}
		_, hasGroups := v["groups"]
		_, hasEntries := v["entries"]
		return hasGroups && hasEntries
	default:
		return false
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
