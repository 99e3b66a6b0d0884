package sqlite_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/storage/sqlite"
	"github.com/papercomputeco/engram/pkg/turn"
)

var _ = Describe("SQLite Store", func() {
	var (
		store *sqlite.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		store, err = sqlite.NewStore(":memory:")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("Sessions", func() {
		It("creates and retrieves a session", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.ID).NotTo(BeEmpty())
			Expect(sess.Active()).To(BeTrue())

			got, err := store.GetSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).To(Equal("user-1"))
		})

		It("rejects a second active session for the same user", func() {
			_, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())

			_, err = store.CreateSession(ctx, "user-1")
			Expect(err).To(MatchError(storage.ErrActiveSessionExists))
		})

		It("allows a new session after the previous one ends", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())

			_, err = store.EndSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("finds the active session for a user", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())

			active, err := store.ActiveSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(active.ID).To(Equal(sess.ID))
		})

		It("ends a session idempotently", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())

			first, err := store.EndSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Active()).To(BeFalse())

			second, err := store.EndSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.EndedAt).To(Equal(first.EndedAt))
		})

		It("returns the end timestamp that actually landed", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())

			ended, err := store.EndSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())

			// Every caller, winner or not, reports the stored row's
			// timestamp rather than one computed locally.
			got, err := store.GetSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended.EndedAt).To(Equal(got.EndedAt))

			again, err := store.EndSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.EndedAt).To(Equal(got.EndedAt))
		})

		It("returns NotFoundError for unknown sessions", func() {
			_, err := store.GetSession(ctx, "nope")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("AppendTurn", func() {
		var sess *turn.Session

		BeforeEach(func() {
			var err error
			sess, err = store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("assigns strictly increasing sequence numbers", func() {
			t1, err := store.AppendTurn(ctx, sess.ID, "first")
			Expect(err).NotTo(HaveOccurred())
			t2, err := store.AppendTurn(ctx, sess.ID, "second")
			Expect(err).NotTo(HaveOccurred())

			Expect(t1.SequenceNumber).To(Equal(int64(1)))
			Expect(t2.SequenceNumber).To(Equal(int64(2)))
		})

		It("places new turns in the hot tier", func() {
			t, err := store.AppendTurn(ctx, sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Tier).To(Equal(turn.TierHot))
			Expect(t.Completed).To(BeFalse())
		})

		It("estimates user token counts", func() {
			t, err := store.AppendTurn(ctx, sess.ID, "abcdefgh")
			Expect(err).NotTo(HaveOccurred())
			Expect(t.TokenCountUser).To(Equal(2))
		})

		It("rejects appends to an ended session", func() {
			_, err := store.EndSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.AppendTurn(ctx, sess.ID, "too late")
			Expect(err).To(MatchError(storage.ErrSessionEnded))
		})

		It("updates session counters", func() {
			_, err := store.AppendTurn(ctx, sess.ID, "hello there")
			Expect(err).NotTo(HaveOccurred())

			got, err := store.GetSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.TurnCount).To(Equal(int64(1)))
			Expect(got.TotalTokens).To(BeNumerically(">", 0))
		})
	})

	Describe("CompleteTurn", func() {
		var t *turn.Turn

		BeforeEach(func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			t, err = store.AppendTurn(ctx, sess.ID, "what is 2+2?")
			Expect(err).NotTo(HaveOccurred())
		})

		It("records assistant text and token counts", func() {
			done, err := store.CompleteTurn(ctx, t.ID, "4", 10, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(done.Completed).To(BeTrue())
			Expect(done.AssistantText).To(Equal("4"))
			Expect(done.TokenCountUser).To(Equal(10))
			Expect(done.TokenCountAssistant).To(Equal(5))
		})

		It("estimates tokens when the model reports none", func() {
			done, err := store.CompleteTurn(ctx, t.ID, "four characters here", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(done.TokenCountAssistant).To(Equal(turn.EstimateTokens("four characters here")))
		})

		It("leaves a partial turn queryable before completion", func() {
			got, err := store.GetTurn(ctx, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Completed).To(BeFalse())
			Expect(got.AssistantText).To(BeEmpty())
		})
	})

	Describe("Turn queries", func() {
		It("orders user turns across sessions by session start then sequence", func() {
			s1, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AppendTurn(ctx, s1.ID, "s1 t1")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AppendTurn(ctx, s1.ID, "s1 t2")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.EndSession(ctx, s1.ID)
			Expect(err).NotTo(HaveOccurred())

			s2, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AppendTurn(ctx, s2.ID, "s2 t1")
			Expect(err).NotTo(HaveOccurred())

			turns, err := store.GetTurnsForUser(ctx, "user-1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(3))
			Expect(turns[0].UserText).To(Equal("s1 t1"))
			Expect(turns[1].UserText).To(Equal("s1 t2"))
			Expect(turns[2].UserText).To(Equal("s2 t1"))
		})

		It("caps user turn reads", func() {
			turns, err := store.GetTurnsForUser(ctx, "user-1", 100000)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(turns)).To(BeNumerically("<=", storage.MaxUserTurns))
		})

		It("filters by tier", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			t, err := store.AppendTurn(ctx, sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())

			hot, err := store.GetTurnsByTier(ctx, sess.ID, turn.TierHot)
			Expect(err).NotTo(HaveOccurred())
			Expect(hot).To(HaveLen(1))

			_, err = store.TransitionTier(ctx, t.ID, turn.TierWarm, turn.ReasonCapacity, false)
			Expect(err).NotTo(HaveOccurred())

			hot, err = store.GetTurnsByTier(ctx, sess.ID, turn.TierHot)
			Expect(err).NotTo(HaveOccurred())
			Expect(hot).To(BeEmpty())
		})
	})

	Describe("TransitionTier", func() {
		var t *turn.Turn

		BeforeEach(func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			t, err = store.AppendTurn(ctx, sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
		})

		It("records a transition-log entry with the mutation", func() {
			tr, err := store.TransitionTier(ctx, t.ID, turn.TierWarm, turn.ReasonCapacity, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.FromTier).To(Equal(turn.TierHot))
			Expect(tr.ToTier).To(Equal(turn.TierWarm))

			got, err := store.GetTurn(ctx, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tier).To(Equal(turn.TierWarm))

			log, err := store.GetTransitions(ctx, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(log).To(HaveLen(1))
			Expect(log[0].Reason).To(Equal(turn.ReasonCapacity))
		})

		It("rejects regression without override", func() {
			_, err := store.TransitionTier(ctx, t.ID, turn.TierCold, turn.ReasonSessionEnd, false)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.TransitionTier(ctx, t.ID, turn.TierHot, "oops", false)
			Expect(err).To(MatchError(storage.ErrTierRegression))
		})

		It("permits regression with override", func() {
			_, err := store.TransitionTier(ctx, t.ID, turn.TierCold, turn.ReasonSessionEnd, false)
			Expect(err).NotTo(HaveOccurred())

			tr, err := store.TransitionTier(ctx, t.ID, turn.TierWarm, "operator correction", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.FromTier).To(Equal(turn.TierCold))

			log, err := store.GetTransitions(ctx, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(log).To(HaveLen(2))
		})
	})

	Describe("TransitionSessionTurns", func() {
		It("bulk-moves all warm turns in one batch", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 10; i++ {
				t, err := store.AppendTurn(ctx, sess.ID, "message")
				Expect(err).NotTo(HaveOccurred())
				_, err = store.TransitionTier(ctx, t.ID, turn.TierWarm, turn.ReasonCapacity, false)
				Expect(err).NotTo(HaveOccurred())
			}

			trs, err := store.TransitionSessionTurns(ctx, sess.ID, turn.TierWarm, turn.TierCold, turn.ReasonSessionEnd)
			Expect(err).NotTo(HaveOccurred())
			Expect(trs).To(HaveLen(10))
			for _, tr := range trs {
				Expect(tr.Reason).To(Equal(turn.ReasonSessionEnd))
			}

			warm, err := store.GetTurnsByTier(ctx, sess.ID, turn.TierWarm)
			Expect(err).NotTo(HaveOccurred())
			Expect(warm).To(BeEmpty())

			cold, err := store.GetTurnsByTier(ctx, sess.ID, turn.TierCold)
			Expect(err).NotTo(HaveOccurred())
			Expect(cold).To(HaveLen(10))
		})
	})

	Describe("SetCriticality", func() {
		It("flags a turn as identity-forming", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			t, err := store.AppendTurn(ctx, sess.ID, "my name is Ada")
			Expect(err).NotTo(HaveOccurred())

			Expect(store.SetCriticality(ctx, t.ID, true)).To(Succeed())

			got, err := store.GetTurn(ctx, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Criticality).To(BeTrue())
		})
	})

	Describe("Stats", func() {
		It("summarizes per-tier counts", func() {
			sess, err := store.CreateSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			t, err := store.AppendTurn(ctx, sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AppendTurn(ctx, sess.ID, "again")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.TransitionTier(ctx, t.ID, turn.TierWarm, turn.ReasonCapacity, false)
			Expect(err).NotTo(HaveOccurred())

			stats, err := store.Stats(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TurnCount).To(Equal(int64(2)))
			Expect(stats.HotTurns).To(Equal(int64(1)))
			Expect(stats.WarmTurns).To(Equal(int64(1)))
		})
	})
})
