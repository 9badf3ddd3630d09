package memory

import (
	"cmp"
	"slices"

	"github.com/lostnfound/postsearch/pkg/types"
)

func sortNewestFirst(posts []*types.Post) {
	slices.SortFunc(posts, func(a, b *types.Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func sortOldestFirst(posts []*types.Post) {
	slices.SortFunc(posts, func(a, b *types.Post) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
