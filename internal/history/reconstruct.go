package history

import (
	"sort"
	"time"
)

// Header is one request header as shown in the view.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is one write event as shown in the view.
// Size is the length of the event's resulting value, nil when the event
// left no value (deletes).
type Record struct {
	Seq       int64     `json:"-"`
	Key       string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Headers   []Header  `json:"headers"`
	Address   string    `json:"ip"`
	Size      *int64    `json:"size"`
}

// KeyHistory is the reconstructed state of one key.
type KeyHistory struct {
	Current *Record  `json:"current"`
	History []Record `json:"history"`
}

// Dump maps every written key to its reconstructed state.
type Dump map[string]KeyHistory

// Keys returns the dump's keys in lexical order.
func (d Dump) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reconstruct builds the view from the active key set and the write records.
// records may arrive in any order and are not modified.
func Reconstruct(active []string, records []Record) Dump {
	isActive := make(map[string]bool, len(active))
	for _, k := range active {
		isActive[k] = true
	}

	groups := make(map[string][]Record)
	for _, r := range records {
		if r.Headers == nil {
			r.Headers = []Header{}
		}
		groups[r.Key] = append(groups[r.Key], r)
	}

	dump := make(Dump, len(groups))
	for key, group := range groups {
		sortRecent(group)

		if isActive[key] {
			current := group[0]
			dump[key] = KeyHistory{
				Current: &current,
				History: append([]Record{}, group[1:]...),
			}
			continue
		}
		dump[key] = KeyHistory{History: group}
	}
	return dump
}

// sortRecent orders records most recent first. Timestamps alone are not a
// total order under fast writers, so equal timestamps fall back to Seq.
func sortRecent(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.After(rs[j].Timestamp)
		}
		return rs[i].Seq > rs[j].Seq
	})
}
