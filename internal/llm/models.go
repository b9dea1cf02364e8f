package llm

import "github.com/soyeahso/courier/internal/config"

// modelTable maps model references (ids and aliases) served by one
// provider to the provider's model id.
type modelTable struct {
	provider string
	def      string
	ids      map[string]string
}

func newModelTable(provider string, entry config.ModelProviderEntry, fallback string) modelTable {
	t := modelTable{provider: provider, def: fallback, ids: make(map[string]string)}
	for i, m := range entry.Models {
		if i == 0 {
			t.def = m.ID
		}
		t.ids[m.ID] = m.ID
		for _, a := range m.Aliases {
			t.ids[a] = m.ID
		}
	}
	return t
}

// resolve returns the model id to send for ref. Unknown references pass
// through only when the provider declares no models.
func (t modelTable) resolve(ref string) string {
	if id, ok := t.ids[ref]; ok {
		return id
	}
	if len(t.ids) == 0 && ref != "" && ref != t.provider {
		return ref
	}
	return t.def
}

// refs lists every reference the table answers to.
func (t modelTable) refs() []string {
	out := make([]string, 0, len(t.ids))
	for ref := range t.ids {
		out = append(out, ref)
	}
	return out
}
