package graph

import (
	"sort"
	"strings"

	"github.com/sandevgo/percept/internal/core"
)

var clientPhrases = map[string]struct{}{
	"the client": {},
	"our client": {},
	"a client":   {},
}

type node struct {
	id  string
	typ core.EntityType
}

// Evidence derives the distinct edge keys one conversation supports:
// person-person co-mentions, person works_on org or project, and client_of
// from an entity referred to as "the client" to every person present.
func Evidence(resolutions []core.Resolution) []core.EdgeKey {
	var (
		nodes   []node
		seen    = make(map[string]struct{})
		clients = make(map[string]struct{})
	)
	for _, r := range resolutions {
		if !r.Resolved() || !r.EntityType.Resolvable() {
			continue
		}
		if _, ok := clientPhrases[strings.ToLower(strings.TrimSpace(r.Mention.SurfaceText))]; ok {
			clients[r.EntityID] = struct{}{}
		}
		if _, ok := seen[r.EntityID]; ok {
			continue
		}
		seen[r.EntityID] = struct{}{}
		nodes = append(nodes, node{id: r.EntityID, typ: r.EntityType})
	}

	keys := make(map[core.EdgeKey]struct{})
	add := func(a, b string, t core.RelationType) {
		if a == b {
			return
		}
		keys[core.NewEdgeKey(a, b, t)] = struct{}{}
	}

	for i, a := range nodes {
		for j, b := range nodes {
			if i == j {
				continue
			}
			switch {
			case a.typ == core.EntityPerson && b.typ == core.EntityPerson && i < j:
				add(a.id, b.id, core.RelMentionedWith)
			case a.typ == core.EntityPerson && (b.typ == core.EntityOrg || b.typ == core.EntityProject):
				add(a.id, b.id, core.RelWorksOn)
			}
			if _, ok := clients[a.id]; ok && b.typ == core.EntityPerson {
				add(a.id, b.id, core.RelClientOf)
			}
		}
	}

	out := make([]core.EdgeKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return keyString(out[i]) < keyString(out[j])
	})
	return out
}
