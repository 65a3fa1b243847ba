// Package topic maintains the subscription trie that maps topic
// filters to subscribed client ids and resolves published topics to
// their matching subscriber set.
//
// MQTT wildcard rules apply to filters only:
// '+' matches exactly one topic level.
// '#' matches its own level and every deeper level (trailing only).
// In a published topic, '+' and '#' are ordinary literal segments.
package topic

import "strings"

// Tree is the subscription trie. It is not internally synchronized;
// the command engine is its only mutator.
type Tree struct {
	root *node
}

type node struct {
	children    map[string]*node
	subscribers map[string]struct{}
}

func newNode() *node {
	return &node{
		children:    make(map[string]*node),
		subscribers: make(map[string]struct{}),
	}
}

func (n *node) empty() bool {
	return len(n.children) == 0 && len(n.subscribers) == 0
}

// NewTree creates an empty subscription tree.
func NewTree() *Tree {
	return &Tree{root: newNode()}
}

// Subscribe records clientID under the filter's terminal node, creating
// intermediate nodes as needed. Re-subscribing is a no-op in effect.
func (t *Tree) Subscribe(filter, clientID string) {
	current := t.root
	for _, level := range strings.Split(filter, "/") {
		next, ok := current.children[level]
		if !ok {
			next = newNode()
			current.children[level] = next
		}
		current = next
	}
	current.subscribers[clientID] = struct{}{}
}

// Unsubscribe removes clientID from the filter's terminal node. Nodes
// left with no children and no subscribers are pruned on the way back
// up; the root is never pruned.
func (t *Tree) Unsubscribe(filter, clientID string) {
	unsubscribe(t.root, strings.Split(filter, "/"), clientID)
}

func unsubscribe(n *node, levels []string, clientID string) {
	if len(levels) == 0 {
		delete(n.subscribers, clientID)
		return
	}
	child, ok := n.children[levels[0]]
	if !ok {
		return
	}
	unsubscribe(child, levels[1:], clientID)
	if child.empty() {
		delete(n.children, levels[0])
	}
}

// RemoveClient removes clientID from every node in one pass, pruning as
// it goes. Used on disconnect and eviction so subscriptions don't leak.
func (t *Tree) RemoveClient(clientID string) {
	removeClient(t.root, clientID)
}

func removeClient(n *node, clientID string) {
	delete(n.subscribers, clientID)
	for level, child := range n.children {
		removeClient(child, clientID)
		if child.empty() {
			delete(n.children, level)
		}
	}
}

// Match resolves a published topic to the set of subscribed client ids.
// Duplicates collapse: a client matching through several filters
// appears once.
func (t *Tree) Match(topic string) map[string]struct{} {
	result := make(map[string]struct{})
	match(t.root, strings.Split(topic, "/"), result)
	return result
}

func match(n *node, levels []string, result map[string]struct{}) {
	if len(levels) == 0 {
		collect(n, result)
		// A trailing '#' also matches its parent level.
		if hash, ok := n.children["#"]; ok {
			collect(hash, result)
		}
		return
	}

	if next, ok := n.children[levels[0]]; ok {
		match(next, levels[1:], result)
	}
	if next, ok := n.children["+"]; ok {
		match(next, levels[1:], result)
	}
	if hash, ok := n.children["#"]; ok {
		collect(hash, result)
	}
}

func collect(n *node, result map[string]struct{}) {
	for clientID := range n.subscribers {
		result[clientID] = struct{}{}
	}
}

// Empty reports whether the tree holds no subscriptions at all.
// Exposed for tests and operational introspection.
func (t *Tree) Empty() bool {
	return t.root.empty()
}
