package recognition_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/recognition"
	"github.com/papercomputeco/engram/pkg/tier"
	"github.com/papercomputeco/engram/pkg/turn"
)

func testTurn(id string, tokens int, createdAt time.Time) *turn.Turn {
	return &turn.Turn{
		ID:             id,
		TokenCountUser: tokens,
		CreatedAt:      createdAt,
	}
}

func scored(t *turn.Turn, sig float64) *tier.ScoredTurn {
	return &tier.ScoredTurn{Turn: t, Significance: sig}
}

var _ = Describe("Bundle assembly", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Now()
	})

	It("keeps hot turns whole even when they exceed the budget", func() {
		hot := []*turn.Turn{
			testTurn("h1", 300, now.Add(-2*time.Minute)),
			testTurn("h2", 300, now.Add(-time.Minute)),
		}
		warm := []*tier.ScoredTurn{scored(testTurn("w1", 50, now.Add(-time.Hour)), 0.9)}

		bundle := recognition.AssembleBundle(hot, warm, nil, 100)

		Expect(bundle.Hot).To(HaveLen(2))
		Expect(bundle.Ranked).To(BeEmpty())
		Expect(bundle.TokenCount).To(Equal(600))
	})

	It("orders ranked entries by significance descending", func() {
		warm := []*tier.ScoredTurn{
			scored(testTurn("w1", 10, now.Add(-time.Hour)), 0.2),
			scored(testTurn("w2", 10, now.Add(-2*time.Hour)), 0.8),
		}
		cold := []*tier.ScoredTurn{
			scored(testTurn("c1", 10, now.Add(-48*time.Hour)), 0.5),
		}

		bundle := recognition.AssembleBundle(nil, warm, cold, 1000)

		Expect(bundle.Ranked).To(HaveLen(3))
		Expect(bundle.Ranked[0].Turn.ID).To(Equal("w2"))
		Expect(bundle.Ranked[1].Turn.ID).To(Equal("c1"))
		Expect(bundle.Ranked[2].Turn.ID).To(Equal("w1"))
	})

	It("breaks significance ties newest-first", func() {
		warm := []*tier.ScoredTurn{
			scored(testTurn("older", 10, now.Add(-2*time.Hour)), 0.5),
			scored(testTurn("newer", 10, now.Add(-time.Hour)), 0.5),
		}

		bundle := recognition.AssembleBundle(nil, warm, nil, 1000)

		Expect(bundle.Ranked[0].Turn.ID).To(Equal("newer"))
		Expect(bundle.Ranked[1].Turn.ID).To(Equal("older"))
	})

	It("drops ranked entries that do not fit the budget", func() {
		hot := []*turn.Turn{testTurn("h1", 80, now)}
		warm := []*tier.ScoredTurn{
			scored(testTurn("w1", 15, now.Add(-time.Hour)), 0.9),
			scored(testTurn("w2", 40, now.Add(-2*time.Hour)), 0.8),
			scored(testTurn("w3", 5, now.Add(-3*time.Hour)), 0.7),
		}

		bundle := recognition.AssembleBundle(hot, warm, nil, 100)

		Expect(bundle.Hot).To(HaveLen(1))
		Expect(bundle.Ranked).To(HaveLen(2))
		Expect(bundle.Ranked[0].Turn.ID).To(Equal("w1"))
		Expect(bundle.Ranked[1].Turn.ID).To(Equal("w3"))
		Expect(bundle.TokenCount).To(BeNumerically("<=", 100))
	})

	It("deduplicates turns that appear in both warm and cold results", func() {
		shared := testTurn("shared", 10, now.Add(-time.Hour))
		bundle := recognition.AssembleBundle(
			nil,
			[]*tier.ScoredTurn{scored(shared, 0.6)},
			[]*tier.ScoredTurn{scored(shared, 0.4)},
			1000,
		)

		Expect(bundle.Ranked).To(HaveLen(1))
	})

	It("excludes ranked entries already present in hot", func() {
		t := testTurn("h1", 10, now)
		bundle := recognition.AssembleBundle(
			[]*turn.Turn{t},
			[]*tier.ScoredTurn{scored(t, 0.9)},
			nil,
			1000,
		)

		Expect(bundle.Hot).To(HaveLen(1))
		Expect(bundle.Ranked).To(BeEmpty())
	})

	It("renders hot turns after retrieved memory", func() {
		hot := []*turn.Turn{{ID: "h1", UserText: "latest question", AssistantText: "latest answer", TokenCountUser: 5}}
		warm := []*tier.ScoredTurn{scored(&turn.Turn{ID: "w1", UserText: "old question", TokenCountUser: 5, CreatedAt: now.Add(-time.Hour)}, 0.5)}

		rendered := recognition.AssembleBundle(hot, warm, nil, 1000).Render()

		Expect(rendered).To(ContainSubstring("old question"))
		Expect(rendered).To(ContainSubstring("latest answer"))
		Expect(rendered).To(MatchRegexp(`(?s)old question.*latest question`))
	})
})
