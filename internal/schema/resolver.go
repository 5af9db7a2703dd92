package schema

// String renders a resolver kind for logging, matching the teacher's
// habit of giving tagged variants a human-readable %s form.
func (k ResolverKind) String() string {
	switch k {
	case ResolverGraphqlRoot:
		return "GraphqlRoot"
	case ResolverGraphqlEntity:
		return "GraphqlEntity"
	case ResolverExtension:
		return "Extension"
	case ResolverDerived:
		return "Derived"
	case ResolverIntrospection:
		return "Introspection"
	default:
		return "Unknown"
	}
}

// IsIntrospectionField reports whether name is one of the introspection
// meta-fields (spec.md §4.2 skips __typename/__schema/__type).
func IsIntrospectionField(name string) bool {
	switch name {
	case "__typename", "__schema", "__type":
		return true
	default:
		return false
	}
}

// CheapestResolver applies the solver's tie-break order (spec.md
// §4.4.6): prefer same-subgraph-as-ancestor when cost-equal, then the
// resolver declaring the largest subset of already-requested sibling
// fields, then stable order by subgraph id then resolver id.
func CheapestResolver(a *Arena, candidates []ResolverDefinition, ancestorSubgraph SubgraphID, requestedSiblings map[FieldID]bool) ResolverDefinition {
	best := candidates[0]
	bestScore := resolverScore(a, best, ancestorSubgraph, requestedSiblings)
	for _, c := range candidates[1:] {
		score := resolverScore(a, c, ancestorSubgraph, requestedSiblings)
		if score.less(bestScore) {
			best, bestScore = c, score
		}
	}
	return best
}

type resolverRank struct {
	cost            int
	sameSubgraph    int // 0 if same as ancestor (better), 1 otherwise
	siblingOverlap  int // negative overlap count (more negative = more overlap = better)
	subgraph        SubgraphID
	resolver        ResolverID
}

func (r resolverRank) less(o resolverRank) bool {
	if r.cost != o.cost {
		return r.cost < o.cost
	}
	if r.sameSubgraph != o.sameSubgraph {
		return r.sameSubgraph < o.sameSubgraph
	}
	if r.siblingOverlap != o.siblingOverlap {
		return r.siblingOverlap < o.siblingOverlap
	}
	if r.subgraph != o.subgraph {
		return r.subgraph < o.subgraph
	}
	return r.resolver < o.resolver
}

func resolverScore(a *Arena, r ResolverDefinition, ancestorSubgraph SubgraphID, requestedSiblings map[FieldID]bool) resolverRank {
	same := 1
	if r.Subgraph == ancestorSubgraph {
		same = 0
	}
	overlap := 0
	if r.Key != InvalidFieldSet {
		fs := a.FieldSet(r.Key)
		if fs != nil {
			for _, item := range fs.Items {
				if requestedSiblings[item.Field] {
					overlap++
				}
			}
		}
	}
	return resolverRank{cost: r.Cost, sameSubgraph: same, siblingOverlap: -overlap, subgraph: r.Subgraph, resolver: r.ID}
}
