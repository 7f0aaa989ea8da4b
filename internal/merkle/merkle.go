// Package merkle builds binary Merkle trees over export-file hashes and
// produces inclusion proofs.
//
// Leaves are lowercase-hex SHA-256 digests and MUST keep the order the
// caller supplies — reordering changes the root. An odd level is padded by
// duplicating its last element before pairing; this duplication rule is
// part of the root's definition and is fixed forever. A parent is
// SHA-256(leftBytes || rightBytes) over the raw 32-byte child digests.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/shiftward/shiftward/internal/digest"
)

var (
	// ErrEmptyTree is returned for a zero-leaf tree: its root is
	// undefined and callers must never sign an empty export.
	ErrEmptyTree = errors.New("merkle: tree has no leaves")

	// ErrLeafIndex is returned when a proof is requested for an index
	// outside the leaf range.
	ErrLeafIndex = errors.New("merkle: leaf index out of range")
)

// Side records which side of the combine a proof sibling sits on.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Step is one level of an inclusion proof: the sibling digest and the side
// it occupies in the pair.
type Step struct {
	Hash string `json:"hash"`
	Side Side   `json:"side"`
}

// Proof recomputes the root from a single leaf.
type Proof struct {
	LeafIndex int    `json:"leaf_index"`
	Steps     []Step `json:"steps"`
}

// Tree holds every level of a built tree, leaves first.
// Levels[0] is the (padded, if odd) leaf level; the last level is the root.
type Tree struct {
	Root   string
	Levels [][]string
	leaves int // unpadded leaf count
}

// LeafCount returns the number of leaves the tree was built from,
// excluding padding.
func (t *Tree) LeafCount() int { return t.leaves }

// Build constructs the tree bottom-up from ordered hex leaf hashes.
func Build(leafHashes []string) (*Tree, error) {
	if len(leafHashes) == 0 {
		return nil, ErrEmptyTree
	}
	for i, leaf := range leafHashes {
		if !digest.IsHex(leaf) {
			return nil, fmt.Errorf("merkle: leaf %d is not a lowercase-hex sha-256 digest", i)
		}
	}

	level := append([]string(nil), leafHashes...)
	levels := [][]string{}
	for {
		if len(level)%2 == 1 && len(level) > 1 {
			level = append(level, level[len(level)-1])
		}
		levels = append(levels, level)
		if len(level) == 1 {
			break
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, combine(level[i], level[i+1]))
		}
		level = next
	}

	return &Tree{
		Root:   levels[len(levels)-1][0],
		Levels: levels,
		leaves: len(leafHashes),
	}, nil
}

// BuildProof walks from the leaf at index up to the root, collecting the
// sibling digest and its side at each level. A single-leaf tree yields an
// empty proof.
func (t *Tree) BuildProof(index int) (*Proof, error) {
	if index < 0 || index >= t.leaves {
		return nil, ErrLeafIndex
	}

	proof := &Proof{LeafIndex: index, Steps: []Step{}}
	idx := index
	for _, level := range t.Levels[:len(t.Levels)-1] {
		if idx%2 == 0 {
			proof.Steps = append(proof.Steps, Step{Hash: level[idx+1], Side: SideRight})
		} else {
			proof.Steps = append(proof.Steps, Step{Hash: level[idx-1], Side: SideLeft})
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from leafHash by folding in each proof
// step in order, and compares it to expectedRoot.
func VerifyProof(leafHash string, proof *Proof, expectedRoot string) bool {
	if proof == nil || !digest.IsHex(leafHash) {
		return false
	}
	acc := leafHash
	for _, step := range proof.Steps {
		if !digest.IsHex(step.Hash) {
			return false
		}
		switch step.Side {
		case SideLeft:
			acc = combine(step.Hash, acc)
		case SideRight:
			acc = combine(acc, step.Hash)
		default:
			return false
		}
	}
	return acc == expectedRoot
}

// combine hashes the raw bytes of two hex child digests into their parent.
func combine(left, right string) string {
	l, _ := hex.DecodeString(left)
	r, _ := hex.DecodeString(right)
	h := sha256.New()
	h.Write(l)
	h.Write(r)
	return hex.EncodeToString(h.Sum(nil))
}
