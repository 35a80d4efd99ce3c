package merkle

import (
	"fmt"
	"testing"

	"github.com/davidahmann/proofpack/core/jcs"
)

func BenchmarkBuildTypicalRun(b *testing.B) {
	leaves := mustBenchmarkLeaves(b, 257)

	b.ReportAllocs()
	b.ResetTimer()
	for index := 0; index < b.N; index++ {
		tree, err := Build(leaves)
		if err != nil {
			b.Fatalf("build tree: %v", err)
		}
		if len(tree.Leaves) != len(leaves) {
			b.Fatalf("unexpected leaf count: %d", len(tree.Leaves))
		}
	}
}

func BenchmarkVerifyTypicalRun(b *testing.B) {
	leaves := mustBenchmarkLeaves(b, 257)
	tree, err := Build(leaves)
	if err != nil {
		b.Fatalf("build tree: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for index := 0; index < b.N; index++ {
		ok, err := Verify(tree, leaves)
		if err != nil || !ok {
			b.Fatalf("verify tree: ok=%t err=%v", ok, err)
		}
	}
}

func mustBenchmarkLeaves(b *testing.B, count int) []Leaf {
	b.Helper()
	leaves := make([]Leaf, 0, count)
	for index := range count {
		label := fmt.Sprintf("synthesis/chapter-%03d.md", index)
		leaves = append(leaves, Leaf{Label: label, Hash: jcs.SHA256Hex([]byte(label))})
	}
	return leaves
}
