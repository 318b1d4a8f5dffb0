/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import "sort"

// BanList is the process-wide set of banned identities. Entries are
// never evicted.
type BanList struct {
	banned map[string]struct{}
}

func NewBanList() *BanList {
	return &BanList{banned: make(map[string]struct{})}
}

func (b *BanList) Add(identity string) {
	b.banned[identity] = struct{}{}
}

// Remove reports whether identity was banned.
func (b *BanList) Remove(identity string) bool {
	if _, ok := b.banned[identity]; !ok {
		return false
	}

	delete(b.banned, identity)

	return true
}

func (b *BanList) Contains(identity string) bool {
	_, ok := b.banned[identity]

	return ok
}

func (b *BanList) List() []string {
	out := make([]string, 0, len(b.banned))
	for identity := range b.banned {
		out = append(out, identity)
	}
	sort.Strings(out)

	return out
}
