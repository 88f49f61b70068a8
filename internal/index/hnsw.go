package index

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// hnswParams mirrors the construction/search beam widths from the
// reference HNSW implementation in the retrieval pack
// (kasuganosora-sqlexec/pkg/resource/memory/hnsw_index.go): M neighbors
// per node per layer, EFConstruction beam width while building, EFSearch
// beam width while querying, ML the level-generation factor 1/ln(M).
type hnswParams struct {
	M              int
	EFConstruction int
	EFSearch       int
	ML             float64
}

var defaultHNSWParams = hnswParams{
	M:              16,
	EFConstruction: 200,
	EFSearch:       64,
	ML:             1 / math.Log(16),
}

// HNSW is an approximate nearest-neighbor graph over vectors of a single
// fixed dimension. Every insert assigns a random level (geometric
// distribution via ML), greedily descends from the global entry point to
// that level, then beam-searches each level down to 0 connecting
// bidirectional edges, pruning neighbor lists back to the per-layer cap.
type HNSW struct {
	mu  sync.RWMutex
	dim int
	rng *rand.Rand

	vectors   map[uint64][]float32
	layers    []map[uint64][]uint64
	nodeLevel map[uint64]int

	hasEntry   bool
	entryPoint uint64
	entryLevel int
}

// NewHNSW creates an empty index over vectors of dimension dim.
func NewHNSW(dim int) *HNSW {
	return &HNSW{
		dim:       dim,
		rng:       rand.New(rand.NewSource(1)),
		vectors:   make(map[uint64][]float32),
		layers:    make([]map[uint64][]uint64, 0),
		nodeLevel: make(map[uint64]int),
	}
}

// Dim returns the index's fixed vector dimension.
func (h *HNSW) Dim() int { return h.dim }

func euclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func (h *HNSW) dist(query []float32, id uint64) float32 {
	v, ok := h.vectors[id]
	if !ok {
		return float32(math.MaxFloat32)
	}
	return euclidean(query, v)
}

func (h *HNSW) randomLevel() int {
	level := 0
	for h.rng.Float64() < defaultHNSWParams.ML && level < 16 {
		level++
	}
	return level
}

func (h *HNSW) ensureLayers(level int) {
	for len(h.layers) <= level {
		h.layers = append(h.layers, make(map[uint64][]uint64))
	}
}

// Insert adds vector under rowID, returning rowID itself as the node id
// (the index is keyed directly by row id, so insert/remove stay O(1) to
// locate from the executor's side).
func (h *HNSW) Insert(vector []float32, rowID uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	vec := make([]float32, len(vector))
	copy(vec, vector)
	h.vectors[rowID] = vec

	level := h.randomLevel()
	h.nodeLevel[rowID] = level
	h.ensureLayers(level)
	for l := 0; l <= level; l++ {
		maxConn := defaultHNSWParams.M * 2
		if l > 0 {
			maxConn = defaultHNSWParams.M
		}
		h.layers[l][rowID] = make([]uint64, 0, maxConn)
	}

	if !h.hasEntry {
		h.hasEntry = true
		h.entryPoint = rowID
		h.entryLevel = level
		return rowID
	}

	ep := h.entryPoint
	for l := h.entryLevel; l > level; l-- {
		ep = h.greedyClosest(vec, ep, l)
	}

	top := level
	if h.entryLevel < top {
		top = h.entryLevel
	}
	for l := top; l >= 0; l-- {
		candidates := h.searchLevel(vec, ep, defaultHNSWParams.EFConstruction, l)
		maxConn := defaultHNSWParams.M * 2
		if l > 0 {
			maxConn = defaultHNSWParams.M
		}
		neighbors := h.selectNeighbors(candidates, maxConn)
		h.layers[l][rowID] = neighbors
		for _, n := range neighbors {
			nn := append(h.layers[l][n], rowID)
			if len(nn) > maxConn {
				nn = h.pruneNeighbors(n, nn, maxConn)
			}
			h.layers[l][n] = nn
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > h.entryLevel {
		h.entryPoint = rowID
		h.entryLevel = level
	}
	return rowID
}

// Remove drops rowID from the graph entirely: its vector, its own
// adjacency lists, and every back-reference other nodes hold to it. If it
// was the entry point, an arbitrary remaining node is promoted.
func (h *HNSW) Remove(rowID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.vectors[rowID]; !ok {
		return
	}
	delete(h.vectors, rowID)
	delete(h.nodeLevel, rowID)

	for l := range h.layers {
		delete(h.layers[l], rowID)
		for id, neighbors := range h.layers[l] {
			filtered := neighbors[:0:0]
			for _, n := range neighbors {
				if n != rowID {
					filtered = append(filtered, n)
				}
			}
			h.layers[l][id] = filtered
		}
	}

	if h.entryPoint == rowID {
		h.hasEntry = false
		h.entryLevel = 0
		for id := range h.vectors {
			h.hasEntry = true
			h.entryPoint = id
			h.entryLevel = h.nodeLevel[id]
			break
		}
	}
}

func (h *HNSW) greedyClosest(query []float32, ep uint64, level int) uint64 {
	if level >= len(h.layers) {
		return ep
	}
	current := ep
	currentDist := h.dist(query, current)
	for {
		improved := false
		for _, n := range h.layers[level][current] {
			d := h.dist(query, n)
			if d < currentDist {
				current, currentDist, improved = n, d, true
			}
		}
		if !improved {
			return current
		}
	}
}

type hnswCandidate struct {
	id   uint64
	dist float32
}

func insertSortedCandidate(slice []hnswCandidate, c hnswCandidate) []hnswCandidate {
	i := sort.Search(len(slice), func(i int) bool { return slice[i].dist > c.dist })
	slice = append(slice, hnswCandidate{})
	copy(slice[i+1:], slice[i:])
	slice[i] = c
	return slice
}

// searchLevel performs a beam search at one layer, returning up to ef
// candidates sorted nearest-first.
func (h *HNSW) searchLevel(query []float32, ep uint64, ef int, level int) []hnswCandidate {
	if level >= len(h.layers) {
		return nil
	}
	visited := map[uint64]bool{ep: true}
	epDist := h.dist(query, ep)
	candidates := []hnswCandidate{{ep, epDist}}
	results := []hnswCandidate{{ep, epDist}}

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]
		if len(results) >= ef && closest.dist > results[ef-1].dist {
			break
		}
		for _, n := range h.layers[level][closest.id] {
			if visited[n] {
				continue
			}
			visited[n] = true
			d := h.dist(query, n)
			if len(results) < ef || d < results[len(results)-1].dist {
				c := hnswCandidate{n, d}
				results = insertSortedCandidate(results, c)
				if len(results) > ef {
					results = results[:ef]
				}
				candidates = insertSortedCandidate(candidates, c)
			}
		}
	}
	return results
}

func (h *HNSW) selectNeighbors(candidates []hnswCandidate, m int) []uint64 {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]uint64, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

func (h *HNSW) pruneNeighbors(nodeID uint64, neighbors []uint64, maxConn int) []uint64 {
	nodeVec, ok := h.vectors[nodeID]
	if !ok {
		if len(neighbors) > maxConn {
			return neighbors[:maxConn]
		}
		return neighbors
	}
	type nd struct {
		id   uint64
		dist float32
	}
	scored := make([]nd, 0, len(neighbors))
	seen := make(map[uint64]bool, len(neighbors))
	for _, n := range neighbors {
		if seen[n] {
			continue
		}
		seen[n] = true
		scored = append(scored, nd{n, euclidean(nodeVec, h.vectors[n])})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	if len(scored) > maxConn {
		scored = scored[:maxConn]
	}
	out := make([]uint64, len(scored))
	for i, s := range scored {
		out[i] = s.id
	}
	return out
}

// SearchResult is one hit from Search, nearest first.
type SearchResult struct {
	RowID    uint64
	Distance float32
}

// Search returns up to k approximate nearest neighbors of query.
func (h *HNSW) Search(query []float32, k int) []SearchResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry || len(h.vectors) == 0 {
		return nil
	}
	ep := h.entryPoint
	for l := h.entryLevel; l > 0; l-- {
		ep = h.greedyClosest(query, ep, l)
	}
	ef := defaultHNSWParams.EFSearch
	if ef < k {
		ef = k
	}
	candidates := h.searchLevel(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = SearchResult{RowID: c.id, Distance: c.dist}
	}
	return out
}

// Size returns the number of vectors currently indexed.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}
