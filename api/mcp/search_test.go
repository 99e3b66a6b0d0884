package mcp

import (
	"context"
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
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
	"github.com/papercomputeco/engram/pkg/tier"
	"github.com/papercomputeco/engram/pkg/turn"
	"github.com/papercomputeco/engram/pkg/worker"
)

const testPlanJSON = `{"needs_warm": false, "needs_cold": false, "search_terms": [], "max_results": 5}`

func newTestEngine() (*engine.Engine, *inmemory.Store) {
	log := logger.New(logger.WithWriter(io.Discard))
	store := inmemory.NewStore()

	mgr, err := tier.NewManager(store, index.NewIndex(), significance.DefaultWeights(), tier.DefaultConfig(), log)
	Expect(err).NotTo(HaveOccurred())

	recCfg := recognition.DefaultConfig()
	recCfg.RetryBackoff = time.Millisecond
	recCfg.CallTimeout = 100 * time.Millisecond
	coord, err := recognition.NewCoordinator(mgr, &mock.Recognition{Responses: []string{testPlanJSON}}, store, recCfg, log)
	Expect(err).NotTo(HaveOccurred())

	pool, err := worker.NewPool(&worker.Config{NumWorkers: 1, Logger: log})
	Expect(err).NotTo(HaveOccurred())

	generator := &mock.Generation{Result: &model.GenerationResult{Text: "reply"}}
	return engine.New(store, mgr, coord, generator, eventstream.Nop{}, pool, log), store
}

var _ = Describe("MCP Server", func() {
	var (
		server *Server
		eng    *engine.Engine
		store  *inmemory.Store
		ctx    context.Context
		sess   *turn.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		eng, store = newTestEngine()

		var err error
		server, err = NewServer(Config{
			Engine: eng,
			Logger: logger.New(logger.WithWriter(io.Discard)),
		})
		Expect(err).NotTo(HaveOccurred())

		sess, err = eng.StartSession(ctx, "user-1")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		It("returns an error when engine is nil", func() {
			_, err := NewServer(Config{Logger: logger.New(logger.WithWriter(io.Discard))})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("engine is required"))
		})

		It("returns an error when logger is nil", func() {
			_, err := NewServer(Config{Engine: eng})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger is required"))
		})

		It("builds an empty server in noop mode", func() {
			s, err := NewServer(Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(s).NotTo(BeNil())
		})
	})

	Describe("memory_search", func() {
		It("requires a session id and query", func() {
			result, _, err := server.handleSearch(ctx, nil, SearchInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())

			result, _, err = server.handleSearch(ctx, nil, SearchInput{SessionID: sess.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})

		It("returns ranked results from warm memory", func() {
			resp, err := eng.ProcessTurn(ctx, sess.ID, "the lighthouse keeper story")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.TransitionTier(ctx, resp.Turn.ID, turn.TierWarm, turn.ReasonCapacity, false)
			Expect(err).NotTo(HaveOccurred())

			result, output, err := server.handleSearch(ctx, nil, SearchInput{
				SessionID: sess.ID,
				Query:     "lighthouse keeper",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Count).To(Equal(1))
			Expect(output.Results[0].Tier).To(Equal("warm"))
			Expect(output.Results[0].UserText).To(ContainSubstring("lighthouse"))
		})

		It("reports an error for an unknown session", func() {
			result, _, err := server.handleSearch(ctx, nil, SearchInput{SessionID: "nope", Query: "anything"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})
	})

	Describe("bundle_preview", func() {
		It("describes the would-be bundle without mutating the session", func() {
			_, err := eng.ProcessTurn(ctx, sess.ID, "remember that I like tea")
			Expect(err).NotTo(HaveOccurred())

			result, output, err := server.handlePreview(ctx, nil, PreviewInput{
				SessionID: sess.ID,
				Text:      "what do I like to drink",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.HotTurns).To(Equal(1))
			Expect(output.Prompt).NotTo(BeEmpty())

			stats, err := eng.Stats(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TurnCount).To(Equal(int64(1)))
		})

		It("requires a session id and text", func() {
			result, _, err := server.handlePreview(ctx, nil, PreviewInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})
	})
})
