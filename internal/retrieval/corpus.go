package retrieval

import "docqa/internal/domain"

// corpus is the ordered fragment list an index is built from. Values are
// never mutated in place; every operation returns a fresh slice.
type corpus []domain.Fragment

func (c corpus) replace(all []domain.Fragment) corpus {
	return append(corpus(nil), all...)
}

func (c corpus) append(more []domain.Fragment) corpus {
	out := make(corpus, 0, len(c)+len(more))
	out = append(out, c...)
	return append(out, more...)
}

// truncate keeps the newest n fragments and drops the oldest ones.
func (c corpus) truncate(n int) corpus {
	if n <= 0 || len(c) <= n {
		return c
	}
	return append(corpus(nil), c[len(c)-n:]...)
}

func (c corpus) texts() []string {
	out := make([]string, len(c))
	for i, f := range c {
		out[i] = f.Text
	}
	return out
}
