package recognition_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/recognition"
)

var _ = Describe("Fallback plan", func() {
	It("pulls warm context when the gap is small", func() {
		plan := recognition.FallbackPlan("what about the deployment", 2*time.Minute)
		Expect(plan.NeedsWarm).To(BeTrue())
	})

	It("skips warm context after a long gap", func() {
		plan := recognition.FallbackPlan("what about the deployment", 3*time.Hour)
		Expect(plan.NeedsWarm).To(BeFalse())
	})

	It("reaches into cold storage on memory-referencing cues", func() {
		plan := recognition.FallbackPlan("do you remember my timezone?", time.Minute)
		Expect(plan.NeedsCold).To(BeTrue())

		plan = recognition.FallbackPlan("My name is Ada, by the way", time.Minute)
		Expect(plan.NeedsCold).To(BeTrue())
	})

	It("leaves cold storage alone without cues", func() {
		plan := recognition.FallbackPlan("write a haiku about rain", time.Minute)
		Expect(plan.NeedsCold).To(BeFalse())
	})

	It("extracts deduplicated keywords in order of appearance", func() {
		plan := recognition.FallbackPlan("the kafka consumer lag on the kafka cluster", time.Minute)
		Expect(plan.SearchTerms).To(Equal([]string{"kafka", "consumer", "lag", "cluster"}))
	})

	It("drops stop words and short tokens", func() {
		plan := recognition.FallbackPlan("can you tell me about it", time.Minute)
		Expect(plan.SearchTerms).To(BeEmpty())
	})

	It("caps the number of search terms", func() {
		plan := recognition.FallbackPlan(
			"alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo",
			time.Minute,
		)
		Expect(plan.SearchTerms).To(HaveLen(recognition.MaxSearchTerms))
	})
})

var _ = Describe("Plan clamping", func() {
	It("caps an oversized max results", func() {
		plan := &recognition.Plan{MaxResults: 100000}
		plan.Clamp(10)
		Expect(plan.MaxResults).To(Equal(10))
	})

	It("replaces a non-positive max results", func() {
		plan := &recognition.Plan{MaxResults: -3}
		plan.Clamp(10)
		Expect(plan.MaxResults).To(Equal(10))
	})

	It("keeps an in-range max results", func() {
		plan := &recognition.Plan{MaxResults: 4}
		plan.Clamp(10)
		Expect(plan.MaxResults).To(Equal(4))
	})

	It("truncates an oversized term list", func() {
		terms := make([]string, 50)
		for i := range terms {
			terms[i] = "term"
		}
		plan := &recognition.Plan{MaxResults: 5, SearchTerms: terms}
		plan.Clamp(10)
		Expect(plan.SearchTerms).To(HaveLen(recognition.MaxSearchTerms))
	})
})
