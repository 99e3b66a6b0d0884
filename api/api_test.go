package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
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

func newTestServer() (*Server, *inmemory.Store) {
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

	generator := &mock.Generation{Result: &model.GenerationResult{Text: "assistant reply"}}
	eng := engine.New(store, mgr, coord, generator, eventstream.Nop{}, pool, log)

	return NewServer(Config{ListenAddr: ":0"}, eng, log), store
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](resp *http.Response) T {
	defer resp.Body.Close()
	var out T
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("API server", func() {
	var (
		server *Server
		store  *inmemory.Store
	)

	startSession := func(userID string) *turn.Session {
		resp, err := server.app.Test(jsonRequest(http.MethodPost, "/sessions", StartSessionRequest{UserID: userID}))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		sess := decode[*turn.Session](resp)
		return sess
	}

	processTurn := func(sessionID, text string) *engine.Response {
		resp, err := server.app.Test(
			jsonRequest(http.MethodPost, "/sessions/"+sessionID+"/turns", ProcessTurnRequest{Text: text}),
			int(10*time.Second/time.Millisecond),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		return decode[*engine.Response](resp)
	}

	BeforeEach(func() {
		server, store = newTestServer()
	})

	Describe("GET /ping", func() {
		It("responds with pong", func() {
			resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode[string](resp)).To(Equal("pong"))
		})
	})

	Describe("POST /sessions", func() {
		It("creates a session", func() {
			sess := startSession("user-1")
			Expect(sess.ID).NotTo(BeEmpty())
			Expect(sess.UserID).To(Equal("user-1"))
		})

		It("rejects a missing user_id", func() {
			resp, err := server.app.Test(jsonRequest(http.MethodPost, "/sessions", StartSessionRequest{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /sessions/:id/turns", func() {
		It("processes a turn end to end", func() {
			sess := startSession("user-1")
			result := processTurn(sess.ID, "hello")

			Expect(result.Text).To(Equal("assistant reply"))
			Expect(result.Turn.Completed).To(BeTrue())
		})

		It("404s on an unknown session", func() {
			resp, err := server.app.Test(jsonRequest(http.MethodPost, "/sessions/nope/turns", ProcessTurnRequest{Text: "hi"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects empty text", func() {
			sess := startSession("user-1")
			resp, err := server.app.Test(jsonRequest(http.MethodPost, "/sessions/"+sess.ID+"/turns", ProcessTurnRequest{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /sessions/:id/end", func() {
		It("ends the session", func() {
			sess := startSession("user-1")
			processTurn(sess.ID, "hello")

			resp, err := server.app.Test(jsonRequest(http.MethodPost, "/sessions/"+sess.ID+"/end", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			ended := decode[*turn.Session](resp)
			Expect(ended.Active()).To(BeFalse())
		})
	})

	Describe("GET /sessions/:id/stats", func() {
		It("reports tier occupancy", func() {
			sess := startSession("user-1")
			processTurn(sess.ID, "hello")

			resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/stats", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			stats := decode[map[string]any](resp)
			Expect(stats["turn_count"]).To(BeEquivalentTo(1))
			Expect(stats["hot_turns"]).To(BeEquivalentTo(1))
		})
	})

	Describe("GET /sessions/:id/search", func() {
		It("requires a query", func() {
			sess := startSession("user-1")
			resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/search", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns ranked results from demoted turns", func() {
			sess := startSession("user-1")
			result := processTurn(sess.ID, "the zeppelin concert was amazing")

			_, err := store.TransitionTier(context.Background(), result.Turn.ID, turn.TierWarm, turn.ReasonCapacity, false)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/search?q=zeppelin", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			results := decode[*engine.SearchResults](resp)
			Expect(results.Warm).To(HaveLen(1))
		})
	})

	Describe("PUT /turns/:id/tier", func() {
		It("moves a turn with an audit reason", func() {
			sess := startSession("user-1")
			result := processTurn(sess.ID, "archive me")

			resp, err := server.app.Test(jsonRequest(
				http.MethodPut,
				fmt.Sprintf("/turns/%s/tier", result.Turn.ID),
				SetTierRequest{Tier: "cold", Reason: "manual archive"},
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			tr := decode[*turn.Transition](resp)
			Expect(tr.ToTier).To(Equal(turn.TierCold))
		})

		It("rejects an unknown tier", func() {
			resp, err := server.app.Test(jsonRequest(http.MethodPut, "/turns/any/tier", SetTierRequest{Tier: "lukewarm", Reason: "r"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a missing reason", func() {
			resp, err := server.app.Test(jsonRequest(http.MethodPut, "/turns/any/tier", SetTierRequest{Tier: "cold"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /turns/:id/transitions", func() {
		It("returns the audit log", func() {
			sess := startSession("user-1")
			result := processTurn(sess.ID, "track me")

			_, err := server.app.Test(jsonRequest(
				http.MethodPut,
				fmt.Sprintf("/turns/%s/tier", result.Turn.ID),
				SetTierRequest{Tier: "warm", Reason: "test"},
			))
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/turns/%s/transitions", result.Turn.ID), nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decode[map[string]any](resp)
			Expect(body["count"]).To(BeEquivalentTo(1))
		})
	})

	Describe("POST /admin/reindex", func() {
		It("rebuilds the index", func() {
			sess := startSession("user-1")
			processTurn(sess.ID, "hello")

			resp, err := server.app.Test(jsonRequest(http.MethodPost, "/admin/reindex", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decode[map[string]any](resp)
			Expect(body["documents"]).To(BeEquivalentTo(1))
		})
	})
})
