// Package merkle implements a small binary Merkle tree used to compute a
// root hash over the configuration service's committed key space, so
// replicas can cheaply cross-check that their state is bit-for-bit
// identical after applying the same block.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
)

// Node is a node in the tree, leaf or internal.
type Node struct {
	Left   *Node
	Right  *Node
	Hash   []byte
	IsLeaf bool
	Key    []byte
	Value  []byte
}

// Tree is a Merkle tree over a fixed snapshot of key-value pairs.
type Tree struct {
	Root  *Node
	leafs []*Node
}

// NewTree builds a tree from a snapshot of key-value pairs. Leaves are
// sorted by key before the tree is built so that two snapshots with the
// same data produce the same root hash regardless of map iteration order.
func NewTree(data map[string][]byte) (*Tree, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot create tree with no data")
	}

	leafs := make([]*Node, 0, len(data))
	for k, v := range data {
		leafs = append(leafs, &Node{
			Hash:   hash(append([]byte(k), v...)),
			IsLeaf: true,
			Key:    []byte(k),
			Value:  v,
		})
	}
	sortNodes(leafs)

	return &Tree{
		Root:  buildTree(leafs),
		leafs: leafs,
	}, nil
}

func buildTree(nodes []*Node) *Node {
	if len(nodes) == 1 {
		return nodes[0]
	}

	newLevel := make([]*Node, 0, (len(nodes)+1)/2)
	for i := 0; i < len(nodes); i += 2 {
		left := nodes[i]
		right := left
		if i+1 < len(nodes) {
			right = nodes[i+1]
		}
		newLevel = append(newLevel, &Node{
			Left:  left,
			Right: right,
			Hash:  hash(append(append([]byte{}, left.Hash...), right.Hash...)),
		})
	}

	return buildTree(newLevel)
}

// GetProof returns an inclusion proof for key: the sibling hash at each
// level from the leaf up to the root, each prefixed by one byte giving
// the sibling's side (0 = right of the path, 1 = left of the path).
func (t *Tree) GetProof(key []byte) ([][]byte, error) {
	var target *Node
	for _, node := range t.leafs {
		if string(node.Key) == string(key) {
			target = node
			break
		}
	}
	if target == nil {
		return nil, errors.New("key not found in tree")
	}

	var proof [][]byte
	current := target
	for current != t.Root {
		parent := t.findParent(current)
		if parent == nil {
			break
		}
		if parent.Left == current {
			proof = append(proof, append([]byte{0}, parent.Right.Hash...))
		} else {
			proof = append(proof, append([]byte{1}, parent.Left.Hash...))
		}
		current = parent
	}

	return proof, nil
}

// VerifyProof reports whether proof is a valid inclusion proof for
// (key, value) against rootHash.
func VerifyProof(rootHash []byte, key, value []byte, proof [][]byte) bool {
	h := hash(append(append([]byte{}, key...), value...))
	for _, step := range proof {
		if len(step) == 0 {
			return false
		}
		side, sibling := step[0], step[1:]
		if side == 0 {
			h = hash(append(append([]byte{}, h...), sibling...))
		} else {
			h = hash(append(append([]byte{}, sibling...), h...))
		}
	}
	return string(h) == string(rootHash)
}

func (t *Tree) findParent(node *Node) *Node {
	if t.Root == nil || node == t.Root {
		return nil
	}
	return findParentHelper(t.Root, node)
}

func findParentHelper(current, target *Node) *Node {
	if current == nil {
		return nil
	}
	if current.Left == target || current.Right == target {
		return current
	}
	if parent := findParentHelper(current.Left, target); parent != nil {
		return parent
	}
	return findParentHelper(current.Right, target)
}

func hash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return string(nodes[i].Key) < string(nodes[j].Key)
	})
}

// RootHash returns the hex-encoded root hash of the tree.
func (t *Tree) RootHash() string {
	if t.Root == nil {
		return ""
	}
	return hex.EncodeToString(t.Root.Hash)
}

// Get returns the value stored for key, if present.
func (t *Tree) Get(key []byte) ([]byte, bool) {
	for _, node := range t.leafs {
		if string(node.Key) == string(key) {
			return node.Value, true
		}
	}
	return nil, false
}
