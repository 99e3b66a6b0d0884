// Package index provides a BM25-ranked inverted index over turn text.
//
// The index is a derived, rebuildable projection keyed by turn ID; the turn
// store remains the source of truth. Document count, document frequencies,
// and total document length are maintained as running aggregates updated on
// insert, owned exclusively by the Index and guarded by a single writer
// lock — no component outside this package mutates them.
package index

import (
	"math"
	"sort"
	"sync"
)

// Default BM25 constants. Asserted defaults, not derived from measurement;
// tune per corpus via NewIndexWithParams.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Result is one ranked hit.
type Result struct {
	TurnID         string
	Score          float64
	SequenceNumber int64
}

// Stats are the index's global aggregates, exposed for consistency checks.
type Stats struct {
	// Documents is the number of indexed turns (N).
	Documents int

	// AvgDocLen is the true mean document length over the corpus.
	AvgDocLen float64

	// Terms is the number of distinct indexed terms.
	Terms int
}

type docInfo struct {
	length int
	seq    int64
}

// Index is an inverted index with BM25 scoring.
type Index struct {
	k1 float64
	b  float64

	mu sync.RWMutex

	// postings maps term -> turn ID -> term frequency.
	postings map[string]map[string]int

	// docs maps turn ID -> document info. len(docs) is N.
	docs map[string]docInfo

	// totalLen is the summed document length; avgdl = totalLen / N.
	totalLen int
}

// NewIndex creates an empty index with default BM25 constants.
func NewIndex() *Index {
	return NewIndexWithParams(DefaultK1, DefaultB)
}

// NewIndexWithParams creates an empty index with explicit k1 and b.
func NewIndexWithParams(k1, b float64) *Index {
	return &Index{
		k1:       k1,
		b:        b,
		postings: make(map[string]map[string]int),
		docs:     make(map[string]docInfo),
	}
}

// Upsert indexes the turn's text under its ID, replacing any previous
// version of the document. Cost is O(terms in the document); the global
// aggregates are adjusted incrementally.
func (idx *Index) Upsert(turnID string, sequenceNumber int64, text string) {
	terms := Tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docs[turnID]; exists {
		idx.removeLocked(turnID)
	}

	idx.docs[turnID] = docInfo{length: len(terms), seq: sequenceNumber}
	idx.totalLen += len(terms)

	for _, term := range terms {
		posting, ok := idx.postings[term]
		if !ok {
			posting = make(map[string]int)
			idx.postings[term] = posting
		}
		posting[turnID]++
	}
}

// removeLocked unindexes a document, keeping aggregates exact. Callers hold
// the write lock.
func (idx *Index) removeLocked(turnID string) {
	info := idx.docs[turnID]
	idx.totalLen -= info.length
	delete(idx.docs, turnID)

	for term, posting := range idx.postings {
		if _, ok := posting[turnID]; ok {
			delete(posting, turnID)
			if len(posting) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// Query returns up to limit turns ranked by BM25 score, highest first.
// Ties break by sequence number descending (most recent first). The allowed
// filter restricts candidates when non-nil. An empty or all-stop-word query
// returns an empty result set.
func (idx *Index) Query(query string, limit int, allowed func(turnID string) bool) []Result {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}
	avgdl := float64(idx.totalLen) / float64(n)
	if avgdl == 0 {
		avgdl = 1
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		posting, ok := idx.postings[term]
		if !ok {
			continue
		}

		df := float64(len(posting))
		idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1)

		for turnID, tf := range posting {
			if allowed != nil && !allowed(turnID) {
				continue
			}
			dl := float64(idx.docs[turnID].length)
			tfF := float64(tf)
			scores[turnID] += idf * (tfF * (idx.k1 + 1)) /
				(tfF + idx.k1*(1-idx.b+idx.b*dl/avgdl))
		}
	}

	results := make([]Result, 0, len(scores))
	for turnID, score := range scores {
		results = append(results, Result{
			TurnID:         turnID,
			Score:          score,
			SequenceNumber: idx.docs[turnID].seq,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SequenceNumber > results[j].SequenceNumber
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Stats returns the current global aggregates.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := Stats{
		Documents: len(idx.docs),
		Terms:     len(idx.postings),
	}
	if s.Documents > 0 {
		s.AvgDocLen = float64(idx.totalLen) / float64(s.Documents)
	}
	return s
}

// Reset drops all postings and aggregates. Used before a rebuild.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.postings = make(map[string]map[string]int)
	idx.docs = make(map[string]docInfo)
	idx.totalLen = 0
}
