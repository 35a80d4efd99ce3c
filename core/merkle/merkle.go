// Package merkle builds and verifies binary sha256 hash trees over ordered leaf digests.
//
// Internal node hashes are sha256(left || right) over the raw 32-byte child digests,
// left before right. When a level has an odd number of nodes the last node is promoted
// to the next level unchanged; it is never duplicated. An empty leaf list yields the
// sentinel root sha256(EmptyMarker).
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
)

const (
	TreeSchemaID      = "proofpack.merkle_tree"
	TreeSchemaVersion = "1.0.0"
	AlgorithmSHA256   = "sha256"
	OddLeafPromote    = "promote"
	EmptyMarker       = "proofpack.merkle.empty"
)

type Leaf struct {
	Label string `json:"label"`
	Hash  string `json:"hash"`
}

type Node struct {
	Hash  string `json:"hash"`
	Label string `json:"label,omitempty"`
	Left  *Node  `json:"left,omitempty"`
	Right *Node  `json:"right,omitempty"`
}

type Tree struct {
	SchemaID      string `json:"schema_id"`
	SchemaVersion string `json:"schema_version"`
	Algorithm     string `json:"algorithm"`
	OddLeafPolicy string `json:"odd_leaf_policy"`
	RootHash      string `json:"root_hash"`
	Leaves        []Leaf `json:"leaves"`
	Root          *Node  `json:"tree"`
}

// EmptyRoot is the root hash of a tree with no leaves.
func EmptyRoot() string {
	return jcs.SHA256Hex([]byte(EmptyMarker))
}

// Build constructs the tree for leaves in the given order.
func Build(leaves []Leaf) (Tree, error) {
	if err := validateLeaves(leaves); err != nil {
		return Tree{}, err
	}
	tree := Tree{
		SchemaID:      TreeSchemaID,
		SchemaVersion: TreeSchemaVersion,
		Algorithm:     AlgorithmSHA256,
		OddLeafPolicy: OddLeafPromote,
		Leaves:        append([]Leaf{}, leaves...),
	}
	if len(leaves) == 0 {
		tree.RootHash = EmptyRoot()
		tree.Root = &Node{Hash: tree.RootHash}
		return tree, nil
	}

	level := make([]*Node, 0, len(leaves))
	for _, leaf := range leaves {
		level = append(level, &Node{Hash: leaf.Hash, Label: leaf.Label})
	}
	for len(level) > 1 {
		next := make([]*Node, 0, (len(level)+1)/2)
		for index := 0; index+1 < len(level); index += 2 {
			left := level[index]
			right := level[index+1]
			parentHash, err := combine(left.Hash, right.Hash)
			if err != nil {
				return Tree{}, err
			}
			next = append(next, &Node{Hash: parentHash, Left: left, Right: right})
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	tree.Root = level[0]
	tree.RootHash = level[0].Hash
	return tree, nil
}

// Root returns only the root hash for leaves.
func Root(leaves []Leaf) (string, error) {
	if err := validateLeaves(leaves); err != nil {
		return "", err
	}
	if len(leaves) == 0 {
		return EmptyRoot(), nil
	}
	level := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		level = append(level, leaf.Hash)
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for index := 0; index+1 < len(level); index += 2 {
			parentHash, err := combine(level[index], level[index+1])
			if err != nil {
				return "", err
			}
			next = append(next, parentHash)
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0], nil
}

// Verify recomputes the root from leaves, ignoring the stored node structure,
// and compares it to tree.RootHash.
func Verify(tree Tree, leaves []Leaf) (bool, error) {
	root, err := Root(leaves)
	if err != nil {
		return false, err
	}
	return root == tree.RootHash, nil
}

// VerifyStructure checks that every stored internal node hashes its children and that
// the stored leaves reproduce the stored root.
func VerifyStructure(tree Tree) error {
	if tree.Algorithm != "" && tree.Algorithm != AlgorithmSHA256 {
		return coreerrors.Validation("algorithm", fmt.Sprintf("unsupported algorithm %q", tree.Algorithm))
	}
	if tree.OddLeafPolicy != "" && tree.OddLeafPolicy != OddLeafPromote {
		return coreerrors.Validation("odd_leaf_policy", fmt.Sprintf("unsupported policy %q", tree.OddLeafPolicy))
	}
	if tree.Root == nil {
		return coreerrors.Validation("tree", "")
	}
	if tree.Root.Hash != tree.RootHash {
		return coreerrors.HashMismatch("merkle tree root node", tree.RootHash, tree.Root.Hash)
	}
	ok, err := Verify(tree, tree.Leaves)
	if err != nil {
		return err
	}
	if !ok {
		recomputed, _ := Root(tree.Leaves)
		return coreerrors.HashMismatch("merkle root", tree.RootHash, recomputed)
	}
	if len(tree.Leaves) == 0 {
		return nil
	}
	leafIndex := 0
	if err := verifyNode(tree.Root, tree.Leaves, &leafIndex); err != nil {
		return err
	}
	if leafIndex != len(tree.Leaves) {
		return coreerrors.Validation("tree", fmt.Sprintf("tree covers %d of %d leaves", leafIndex, len(tree.Leaves)))
	}
	return nil
}

func verifyNode(node *Node, leaves []Leaf, leafIndex *int) error {
	if node.Left == nil && node.Right == nil {
		if *leafIndex >= len(leaves) {
			return coreerrors.Validation("tree", "more leaf nodes than declared leaves")
		}
		declared := leaves[*leafIndex]
		if node.Hash != declared.Hash || node.Label != declared.Label {
			return coreerrors.HashMismatch(fmt.Sprintf("merkle leaf %d", *leafIndex), declared.Hash, node.Hash)
		}
		*leafIndex++
		return nil
	}
	if node.Left == nil || node.Right == nil {
		return coreerrors.Validation("tree", "internal node must have two children")
	}
	if err := verifyNode(node.Left, leaves, leafIndex); err != nil {
		return err
	}
	if err := verifyNode(node.Right, leaves, leafIndex); err != nil {
		return err
	}
	expected, err := combine(node.Left.Hash, node.Right.Hash)
	if err != nil {
		return err
	}
	if expected != node.Hash {
		return coreerrors.HashMismatch("merkle internal node", expected, node.Hash)
	}
	return nil
}

func combine(leftHex, rightHex string) (string, error) {
	left, err := hex.DecodeString(leftHex)
	if err != nil {
		return "", coreerrors.Validation("hash", fmt.Sprintf("decode %q: %v", leftHex, err))
	}
	right, err := hex.DecodeString(rightHex)
	if err != nil {
		return "", coreerrors.Validation("hash", fmt.Sprintf("decode %q: %v", rightHex, err))
	}
	hasher := sha256.New()
	hasher.Write(left)
	hasher.Write(right)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func validateLeaves(leaves []Leaf) error {
	for index, leaf := range leaves {
		if !jcs.IsDigest(leaf.Hash) {
			return coreerrors.Validation(fmt.Sprintf("leaves[%d].hash", index), "must be a 64-character lowercase hex sha256 digest")
		}
	}
	return nil
}
