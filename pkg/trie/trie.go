// Package trie implements the ordered-child trie used by candidate
// extraction: one path per distinct substring seen in the corpus,
// mergeable across workers and flattenable into the token array the
// annealing selector operates on.
package trie

import (
	"sort"

	"github.com/subtok/vocab/internal/taskpool"
	"github.com/subtok/vocab/pkg/vocab"
)

// MinFreq is the minimum path frequency build_tokens keeps. Nodes
// below it are dropped during flattening and excluded from parent
// resolution.
const MinFreq = 1

// mergeParallelThreshold is the subtree size (in node count) above
// which Merge dispatches a matched child pair's recursive merge onto
// the supplied Pool instead of running it inline. Below it the
// scheduling overhead isn't worth it.
const mergeParallelThreshold = 4096

// node is one trie node: a single code point reached from its parent,
// a path frequency, and children kept sorted by code point for binary
// search.
type node struct {
	chr      rune
	freq     int64
	subSize  int64
	index    int32 // set once by buildToken; -1 until then
	children []*node
}

func newNode(chr rune) *node {
	return &node{chr: chr, index: -1}
}

func (n *node) findChild(chr rune) (int, bool) {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].chr >= chr })
	if i < len(n.children) && n.children[i].chr == chr {
		return i, true
	}
	return i, false
}

func (n *node) childAt(i int) *node {
	return n.children[i]
}

// createChild inserts and returns a new child for chr, keeping
// children sorted. pos must be the insertion point findChild returned
// for chr.
func (n *node) createChild(pos int, chr rune) *node {
	c := newNode(chr)
	n.children = append(n.children, nil)
	copy(n.children[pos+1:], n.children[pos:])
	n.children[pos] = c
	return c
}

func (n *node) compSize() {
	n.subSize = 1
	for _, c := range n.children {
		n.subSize += c.subSize
	}
}

// Trie is the top-level handle: a synthetic root whose children are
// the single-code-point candidates (the roots of the candidate
// graph).
type Trie struct {
	root     *node
	minFreq  int64
	totalLen int64 // total node count, maintained incrementally for merge-size checks
}

// New returns an empty Trie. minFreq overrides MinFreq when > 0.
func New(minFreq int64) *Trie {
	if minFreq <= 0 {
		minFreq = MinFreq
	}
	return &Trie{root: newNode(0), minFreq: minFreq}
}

// AddString inserts codepoints[:length] as a path from the root,
// incrementing freq at every node along the way (creating nodes as
// needed). Not safe for concurrent use on the same Trie; callers give
// each worker its own Trie.
func (t *Trie) AddString(codepoints []rune, length int) {
	n := t.root
	for i := 0; i < length; i++ {
		chr := codepoints[i]
		pos, ok := n.findChild(chr)
		var c *node
		if ok {
			c = n.childAt(pos)
		} else {
			c = n.createChild(pos, chr)
			t.totalLen++
		}
		c.freq++
		n = c
	}
}

// NodeCount returns the number of nodes created so far, used by the
// extractor to decide when a worker trie has grown past the merge
// threshold.
func (t *Trie) NodeCount() int64 {
	return t.totalLen
}

// Merge destructively folds other into t: other must not be used
// afterward. Matched children at each level are merged recursively,
// dispatched onto pool when the combined subtree is large enough to
// be worth scheduling; unmatched children of other are spliced into
// t's sorted child list. Sub-counts are recomputed bottom-up as each
// level finishes.
func (t *Trie) Merge(other *Trie, pool taskpool.Pool) {
	mergeNode(t.root, other.root, pool)
	t.totalLen += other.totalLen
}

func mergeNode(dst, src *node, pool taskpool.Pool) {
	dst.freq += src.freq
	if len(dst.children) == 0 {
		dst.children = src.children
		dst.compSize()
		return
	}
	if len(src.children) == 0 {
		dst.compSize()
		return
	}

	merged := make([]*node, 0, len(dst.children)+len(src.children))
	var tasks []*taskpool.Task
	i := 0
	for _, sc := range src.children {
		for i < len(dst.children) && dst.children[i].chr < sc.chr {
			merged = append(merged, dst.children[i])
			i++
		}
		if i < len(dst.children) && dst.children[i].chr == sc.chr {
			dc := dst.children[i]
			if dc.subSize+sc.subSize > mergeParallelThreshold {
				tasks = append(tasks, pool.Enqueue(func() { mergeNode(dc, sc, pool) }))
			} else {
				mergeNode(dc, sc, pool)
			}
			merged = append(merged, dc)
			i++
		} else {
			merged = append(merged, sc)
		}
	}
	for ; i < len(dst.children); i++ {
		merged = append(merged, dst.children[i])
	}

	if len(tasks) > 0 {
		pool.Wait(tasks...)
	}
	dst.children = merged
	dst.compSize()
}

// BuildTokens flattens the trie into a slice of vocab.Token in
// pre-order, dropping nodes whose freq fell below minFreq, then
// resolving every token's left/right parent in a second pass. The
// trie's internal node storage is released afterward (the Trie
// reverts to empty).
func (t *Trie) BuildTokens() []vocab.Token {
	var tokens []vocab.Token
	// Roots (single code points) are never dropped by the frequency
	// threshold: every string must remain encodable by falling back
	// to individual code points.
	for _, c := range t.root.children {
		buildToken(c, c.chr, 1, t.minFreq, &tokens)
	}
	for _, root := range t.root.children {
		for _, child := range root.children {
			if child.freq == -1 {
				continue
			}
			compParents(child, root, t.root, tokens)
		}
	}
	t.root = newNode(0)
	t.totalLen = 0
	return tokens
}

// buildToken emits a token for n (named by fst, the first code point
// of the whole root-subtree n belongs to) and recurses into n's
// children, skipping any whose freq is below minFreq.
func buildToken(n *node, fst rune, depth uint16, minFreq int64, tokens *[]vocab.Token) {
	n.index = int32(len(*tokens))
	*tokens = append(*tokens, vocab.NewToken(fst, depth, vocab.NoParent, vocab.NoParent, uint64(n.freq)))
	for _, c := range n.children {
		if c.freq < minFreq {
			c.freq = -1
			continue
		}
		buildToken(c, fst, depth+1, minFreq, tokens)
	}
}

// compParents resolves n's right_parent (pref, the direct trie
// ancestor — this string minus its last code point) and left_parent
// (found by descending from suff along n's own code point — this
// string minus its first code point), then recurses with n as the new
// pref and the node just found as the new suff.
func compParents(n, pref, suff *node, tokens []vocab.Token) {
	if n.freq == -1 {
		return
	}
	pos, ok := suff.findChild(n.chr)
	if !ok {
		panic("trie: suffix path missing, candidate extraction did not insert every suffix")
	}
	suff = suff.childAt(pos)

	tok := &tokens[n.index]
	tok.RightParent = pref.index
	tok.LeftParent = suff.index

	for _, c := range n.children {
		if c.freq == -1 {
			continue
		}
		compParents(c, n, suff, tokens)
	}
}
