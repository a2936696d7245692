package iden

// ahoNode is one state of the dictionary automaton: a goto table keyed by
// byte, a fail link, and whether this state terminates a dictionary word.
//
// Grounded on the pack's Aho-Corasick scanner
// (anhnv24810310060-source-SWARM-INTELLIGENCE-NETWORK/services/
// signature-engine/scanner/aho.go): same goto-map-plus-fail-link
// construction and BFS failure-link pass, adapted here from byte-pattern
// intrusion signatures to whole dictionary words used to cut identifier
// segments (spec.md 4.2).
type ahoNode struct {
	next     map[byte]*ahoNode
	fail     *ahoNode
	terminal bool
}

// dictionary is the compiled word-list automaton the tokenizer advances a
// cursor through one byte at a time.
type dictionary struct {
	root *ahoNode
}

// buildDictionary compiles an Aho-Corasick automaton from a word list.
// Case-sensitive; callers normalize input beforehand if that's desired.
func buildDictionary(words []string) *dictionary {
	root := &ahoNode{next: make(map[byte]*ahoNode)}

	for _, w := range words {
		if w == "" {
			continue
		}
		cur := root
		for i := 0; i < len(w); i++ {
			b := w[i]
			nxt, ok := cur.next[b]
			if !ok {
				nxt = &ahoNode{next: make(map[byte]*ahoNode)}
				cur.next[b] = nxt
			}
			cur = nxt
		}
		cur.terminal = true
	}

	queue := make([]*ahoNode, 0, len(root.next))
	for _, n := range root.next {
		n.fail = root
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for b, nxt := range n.next {
			f := n.fail
			for f != nil && f.next[b] == nil {
				f = f.fail
			}
			if f == nil {
				nxt.fail = root
			} else {
				nxt.fail = f.next[b]
			}
			if nxt.fail != nil && nxt.fail.terminal {
				nxt.terminal = true
			}
			queue = append(queue, nxt)
		}
	}

	return &dictionary{root: root}
}

// step advances the automaton from state n by byte b, following fail links
// until a goto transition exists (or the root is reached). A nil n means
// "start state" (the root).
func (d *dictionary) step(n *ahoNode, b byte) *ahoNode {
	if n == nil {
		n = d.root
	}
	for n != nil && n.next[b] == nil {
		n = n.fail
	}
	if n == nil {
		return d.root
	}
	return n.next[b]
}
