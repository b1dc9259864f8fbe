package hub

import "strings"

// MatchFilter only routes messages with one of a list of exact subjects.
type MatchFilter struct {
	Router
	Match []string
}

func NewMatchFilter(r Router, strs ...string) *MatchFilter {
	return &MatchFilter{r, strs}
}

func (r *MatchFilter) Route(m *Msg) {
	for _, s := range r.Match {
		if m.Subj == s {
			r.Router.Route(m)
			return
		}
	}
}

// PrefixFilter only routes messages with one of a list of subject prefixes.
type PrefixFilter struct {
	Router
	Prefix []string
}

func NewPrefixFilter(r Router, strs ...string) *PrefixFilter {
	return &PrefixFilter{r, strs}
}

func (r *PrefixFilter) Route(m *Msg) {
	for _, s := range r.Prefix {
		if strings.HasPrefix(m.Subj, s) {
			r.Router.Route(m)
			return
		}
	}
}

// Routers calls every router in the slice with each message.
type Routers []Router

func (rs Routers) Route(m *Msg) {
	for _, r := range rs {
		r.Route(m)
	}
}
