package index_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/index"
)

var _ = Describe("Tokenize", func() {
	It("lower-cases and splits on non-alphanumerics", func() {
		terms := index.Tokenize("Quantum-Computing, fast!")
		Expect(terms).To(ContainElement("quantum"))
		Expect(terms).To(ContainElement("comput"))
		Expect(terms).To(ContainElement("fast"))
	})

	It("removes stop words", func() {
		terms := index.Tokenize("the cat and the hat")
		Expect(terms).To(Equal([]string{"cat", "hat"}))
	})

	It("stems consistently across documents and queries", func() {
		Expect(index.Tokenize("computing")).To(Equal(index.Tokenize("computes")))
	})

	It("returns nothing for all-stop-word text", func() {
		Expect(index.Tokenize("the and of")).To(BeEmpty())
	})
})

var _ = Describe("Index", func() {
	var idx *index.Index

	BeforeEach(func() {
		idx = index.NewIndex()
	})

	Describe("Query", func() {
		It("ranks the on-topic document first", func() {
			idx.Upsert("t1", 1, "we discussed quantum computing at length")
			for i := 2; i <= 10; i++ {
				idx.Upsert(fmt.Sprintf("t%d", i), int64(i), "the weather was nice today")
			}

			results := idx.Query("remember the quantum computing discussion", 10, nil)
			Expect(results).NotTo(BeEmpty())
			Expect(results[0].TurnID).To(Equal("t1"))
			Expect(results[0].Score).To(BeNumerically(">", 0))

			for _, r := range results[1:] {
				Expect(r.Score).To(BeNumerically("<", results[0].Score))
			}
		})

		It("excludes documents with no matching terms", func() {
			idx.Upsert("t1", 1, "quantum computing")
			idx.Upsert("t2", 2, "gardening tips")

			results := idx.Query("quantum", 10, nil)
			Expect(results).To(HaveLen(1))
			Expect(results[0].TurnID).To(Equal("t1"))
		})

		It("returns empty for an empty query", func() {
			idx.Upsert("t1", 1, "anything")
			Expect(idx.Query("", 10, nil)).To(BeEmpty())
		})

		It("returns empty for an all-stop-word query", func() {
			idx.Upsert("t1", 1, "anything")
			Expect(idx.Query("the and of", 10, nil)).To(BeEmpty())
		})

		It("breaks ties by recency", func() {
			idx.Upsert("old", 1, "same words here")
			idx.Upsert("new", 2, "same words here")

			results := idx.Query("same words", 10, nil)
			Expect(results).To(HaveLen(2))
			Expect(results[0].TurnID).To(Equal("new"))
		})

		It("respects the candidate filter", func() {
			idx.Upsert("t1", 1, "quantum computing")
			idx.Upsert("t2", 2, "quantum computing")

			results := idx.Query("quantum", 10, func(id string) bool { return id == "t1" })
			Expect(results).To(HaveLen(1))
			Expect(results[0].TurnID).To(Equal("t1"))
		})

		It("clamps results to the limit", func() {
			for i := 1; i <= 20; i++ {
				idx.Upsert(fmt.Sprintf("t%d", i), int64(i), "quantum physics")
			}
			Expect(idx.Query("quantum", 5, nil)).To(HaveLen(5))
		})
	})

	Describe("Upsert", func() {
		It("replaces prior versions of a document", func() {
			idx.Upsert("t1", 1, "original text about gardening")
			idx.Upsert("t1", 1, "revised text about quantum computing")

			Expect(idx.Query("gardening", 10, nil)).To(BeEmpty())
			Expect(idx.Query("quantum", 10, nil)).To(HaveLen(1))
			Expect(idx.Stats().Documents).To(Equal(1))
		})
	})

	Describe("Stats", func() {
		It("maintains aggregates that match a from-scratch rebuild", func() {
			texts := map[string]string{
				"t1": "the quick brown fox jumps over the lazy dog",
				"t2": "quantum computing changes everything",
				"t3": "a short note",
				"t4": "another discussion about quantum entanglement and computing",
			}

			seq := int64(0)
			for id, text := range texts {
				seq++
				idx.Upsert(id, seq, text)
			}
			// Re-upsert one document to exercise the replace path.
			idx.Upsert("t3", 99, "a rather longer short note than before")

			rebuilt := index.NewIndex()
			seq = 0
			for id, text := range texts {
				seq++
				if id == "t3" {
					rebuilt.Upsert(id, 99, "a rather longer short note than before")
					continue
				}
				rebuilt.Upsert(id, seq, text)
			}

			incremental := idx.Stats()
			scratch := rebuilt.Stats()
			Expect(incremental.Documents).To(Equal(scratch.Documents))
			Expect(incremental.AvgDocLen).To(Equal(scratch.AvgDocLen))
			Expect(incremental.Terms).To(Equal(scratch.Terms))
		})
	})

	Describe("Reset", func() {
		It("drops all state", func() {
			idx.Upsert("t1", 1, "quantum")
			idx.Reset()
			Expect(idx.Stats().Documents).To(Equal(0))
			Expect(idx.Query("quantum", 10, nil)).To(BeEmpty())
		})
	})
})
