package engine_test

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/index"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/model"
	"github.com/papercomputeco/engram/pkg/model/mock"
	"github.com/papercomputeco/engram/pkg/recognition"
	"github.com/papercomputeco/engram/pkg/significance"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
	"github.com/papercomputeco/engram/pkg/tier"
	"github.com/papercomputeco/engram/pkg/turn"
	"github.com/papercomputeco/engram/pkg/worker"
)

const noRetrievalPlan = `{"needs_warm": false, "needs_cold": false, "search_terms": [], "max_results": 5}`

var _ = Describe("Engine", func() {
	var (
		ctx        context.Context
		store      *inmemory.Store
		recognizer *mock.Recognition
		generator  *mock.Generation
		eng        *engine.Engine
		sess       *turn.Session
	)

	newEngine := func(tierCfg tier.Config) *engine.Engine {
		log := logger.New(logger.WithWriter(io.Discard))

		mgr, err := tier.NewManager(store, index.NewIndex(), significance.DefaultWeights(), tierCfg, log)
		Expect(err).NotTo(HaveOccurred())

		recCfg := recognition.DefaultConfig()
		recCfg.RetryBackoff = time.Millisecond
		recCfg.CallTimeout = 100 * time.Millisecond
		coord, err := recognition.NewCoordinator(mgr, recognizer, store, recCfg, log)
		Expect(err).NotTo(HaveOccurred())

		pool, err := worker.NewPool(&worker.Config{NumWorkers: 1, Logger: log})
		Expect(err).NotTo(HaveOccurred())

		return engine.New(store, mgr, coord, generator, eventstream.Nop{}, pool, log)
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewStore()
		recognizer = &mock.Recognition{Responses: []string{noRetrievalPlan}}
		generator = &mock.Generation{Result: &model.GenerationResult{Text: "generated reply"}}
		eng = newEngine(tier.DefaultConfig())

		var err error
		sess, err = eng.StartSession(ctx, "user-1")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("StartSession", func() {
		It("returns the existing active session on a second call", func() {
			again, err := eng.StartSession(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.ID).To(Equal(sess.ID))
		})
	})

	Describe("ProcessTurn", func() {
		It("appends, generates, and completes the turn", func() {
			resp, err := eng.ProcessTurn(ctx, sess.ID, "hello there")
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.Text).To(Equal("generated reply"))
			Expect(resp.Turn.Completed).To(BeTrue())
			Expect(resp.Turn.AssistantText).To(Equal("generated reply"))
			Expect(resp.Turn.Tier).To(Equal(turn.TierHot))
			Expect(resp.Recognition.Trace).To(ContainElement(recognition.StateDone))
		})

		It("evicts the oldest hot turn once capacity is exceeded", func() {
			eng = newEngine(tier.Config{HotMaxTurns: 2, HotMaxTokens: 100000, WarmMaxResults: 50})

			var last *engine.Response
			for _, msg := range []string{"first", "second", "third"} {
				var err error
				last, err = eng.ProcessTurn(ctx, sess.ID, msg)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(last.Transitions).To(HaveLen(1))
			Expect(last.Transitions[0].ToTier).To(Equal(turn.TierWarm))
			Expect(last.Transitions[0].Reason).To(Equal(turn.ReasonCapacity))

			hot, err := store.GetTurnsByTier(ctx, sess.ID, turn.TierHot)
			Expect(err).NotTo(HaveOccurred())
			Expect(hot).To(HaveLen(2))
		})

		It("evicts hot turns when a completion blows the token budget", func() {
			eng = newEngine(tier.Config{HotMaxTurns: 10, HotMaxTokens: 1000, WarmMaxResults: 50})

			for _, msg := range []string{"first", "second"} {
				_, err := eng.ProcessTurn(ctx, sess.ID, msg)
				Expect(err).NotTo(HaveOccurred())
			}

			// A long assistant reply pushes the hot tier over its token
			// budget even though the append itself fit.
			generator.Result = &model.GenerationResult{
				Text:             "a very long reply",
				PromptTokens:     10,
				CompletionTokens: 5000,
			}

			resp, err := eng.ProcessTurn(ctx, sess.ID, "third")
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.Transitions).To(HaveLen(2))
			for _, tr := range resp.Transitions {
				Expect(tr.ToTier).To(Equal(turn.TierWarm))
				Expect(tr.Reason).To(Equal(turn.ReasonCapacity))
			}

			hot, err := store.GetTurnsByTier(ctx, sess.ID, turn.TierHot)
			Expect(err).NotTo(HaveOccurred())
			Expect(hot).To(HaveLen(1))
			Expect(hot[0].ID).To(Equal(resp.Turn.ID))
		})

		It("rejects a second in-flight turn on the same session", func() {
			generator.Release = make(chan struct{})

			errs := make(chan error, 1)
			go func() {
				_, err := eng.ProcessTurn(ctx, sess.ID, "slow one")
				errs <- err
			}()

			Eventually(generator.PromptCount).Should(BeNumerically(">", 0))

			_, err := eng.ProcessTurn(ctx, sess.ID, "too eager")
			Expect(err).To(MatchError(storage.ErrSessionBusy))

			close(generator.Release)
			Expect(<-errs).NotTo(HaveOccurred())
		})

		It("lets other sessions proceed while one is busy", func() {
			other, err := eng.StartSession(ctx, "user-2")
			Expect(err).NotTo(HaveOccurred())

			generator.Release = make(chan struct{})
			go eng.ProcessTurn(ctx, sess.ID, "slow one")
			Eventually(generator.PromptCount).Should(BeNumerically(">", 0))
			close(generator.Release)

			_, err = eng.ProcessTurn(ctx, other.ID, "independent")
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps the appended turn queryable when generation fails", func() {
			generator.Err = errors.New("upstream 500")

			_, err := eng.ProcessTurn(ctx, sess.ID, "doomed message")
			var provErr *model.ProviderError
			Expect(errors.As(err, &provErr)).To(BeTrue())

			turns, err := store.GetTurns(ctx, sess.ID, 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Completed).To(BeFalse())
			Expect(turns[0].UserText).To(Equal("doomed message"))
		})
	})

	Describe("EndSession", func() {
		It("demotes every turn to cold and closes the session", func() {
			_, err := eng.ProcessTurn(ctx, sess.ID, "one")
			Expect(err).NotTo(HaveOccurred())
			_, err = eng.ProcessTurn(ctx, sess.ID, "two")
			Expect(err).NotTo(HaveOccurred())

			ended, err := eng.EndSession(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended.Active()).To(BeFalse())

			cold, err := store.GetTurnsByTier(ctx, sess.ID, turn.TierCold)
			Expect(err).NotTo(HaveOccurred())
			Expect(cold).To(HaveLen(2))
		})
	})

	Describe("SetTier", func() {
		It("records an administrative transition", func() {
			resp, err := eng.ProcessTurn(ctx, sess.ID, "pin this")
			Expect(err).NotTo(HaveOccurred())

			tr, err := eng.SetTier(ctx, resp.Turn.ID, turn.TierCold, "manual archive")
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Reason).To(Equal("manual archive"))

			log, err := store.GetTransitions(ctx, resp.Turn.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(log).To(HaveLen(1))
		})
	})

	Describe("PreviewBundle", func() {
		It("does not append a turn", func() {
			_, err := eng.ProcessTurn(ctx, sess.ID, "real message")
			Expect(err).NotTo(HaveOccurred())

			result, err := eng.PreviewBundle(ctx, sess.ID, "what would you retrieve for this")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Bundle.Hot).To(HaveLen(1))

			stats, err := eng.Stats(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TurnCount).To(Equal(int64(1)))
		})
	})

	Describe("Search", func() {
		It("finds demoted turns by content", func() {
			eng = newEngine(tier.Config{HotMaxTurns: 1, HotMaxTokens: 100000, WarmMaxResults: 50})

			_, err := eng.ProcessTurn(ctx, sess.ID, "the zeppelin concert was amazing")
			Expect(err).NotTo(HaveOccurred())
			_, err = eng.ProcessTurn(ctx, sess.ID, "unrelated grocery list")
			Expect(err).NotTo(HaveOccurred())

			results, err := eng.Search(ctx, sess.ID, "zeppelin concert", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results.Warm).NotTo(BeEmpty())
			Expect(results.Warm[0].Turn.UserText).To(ContainSubstring("zeppelin"))
		})
	})

	Describe("RebuildIndex", func() {
		It("reindexes every stored turn", func() {
			_, err := eng.ProcessTurn(ctx, sess.ID, "one")
			Expect(err).NotTo(HaveOccurred())
			_, err = eng.ProcessTurn(ctx, sess.ID, "two")
			Expect(err).NotTo(HaveOccurred())

			n, err := eng.RebuildIndex(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
		})
	})
})
