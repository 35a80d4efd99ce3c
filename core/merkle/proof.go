package merkle

import (
	"fmt"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
)

const (
	SideLeft  = "left"
	SideRight = "right"
)

// ProofStep is one sibling on the audit path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"`
	Side string `json:"side"`
}

// Proof returns the inclusion path for leaves[index]. Levels where the node is
// promoted contribute no step.
func Proof(leaves []Leaf, index int) ([]ProofStep, error) {
	if err := validateLeaves(leaves); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(leaves) {
		return nil, coreerrors.InvalidParameter("index", index, fmt.Sprintf("must be in [0,%d)", len(leaves)))
	}
	level := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		level = append(level, leaf.Hash)
	}
	steps := make([]ProofStep, 0)
	position := index
	for len(level) > 1 {
		switch {
		case position%2 == 1:
			steps = append(steps, ProofStep{Hash: level[position-1], Side: SideLeft})
		case position+1 < len(level):
			steps = append(steps, ProofStep{Hash: level[position+1], Side: SideRight})
		}
		next := make([]string, 0, (len(level)+1)/2)
		for cursor := 0; cursor+1 < len(level); cursor += 2 {
			parentHash, err := combine(level[cursor], level[cursor+1])
			if err != nil {
				return nil, err
			}
			next = append(next, parentHash)
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
		position /= 2
	}
	return steps, nil
}

// VerifyProof folds steps over leafHash and compares the result with root.
func VerifyProof(leafHash string, steps []ProofStep, root string) (bool, error) {
	if !jcs.IsDigest(leafHash) {
		return false, coreerrors.Validation("leaf_hash", "must be a 64-character lowercase hex sha256 digest")
	}
	current := leafHash
	for index, step := range steps {
		var err error
		switch step.Side {
		case SideLeft:
			current, err = combine(step.Hash, current)
		case SideRight:
			current, err = combine(current, step.Hash)
		default:
			return false, coreerrors.Validation(fmt.Sprintf("steps[%d].side", index), fmt.Sprintf("unsupported side %q", step.Side))
		}
		if err != nil {
			return false, err
		}
	}
	return current == root, nil
}
