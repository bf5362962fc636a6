package proxy

import (
	"iter"
	"math/rand/v2"
	"net/url"
	"slices"
	"sync"
)

// State records the previous selection. Pool is -1 before the first call.
type State struct {
	Pool int
	Host string
}

// PoolInfo describes one account pool.
type PoolInfo struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Size   int     `json:"size"`
}

// Rotator yields proxy URIs from weighted account pools. Two consecutive
// picks from the same pool never return the same host when the pool has an
// alternative. Safe for concurrent use.
type Rotator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	names []string
	pools [][]string
	cum   []float64 // running weight totals, one per pool
	state State
}

// NewRotator builds a Rotator over creds. A nil rng uses a randomly seeded
// source.
func NewRotator(creds *Credentials, rng *rand.Rand) (*Rotator, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	r := &Rotator{
		rng:   rng,
		state: State{Pool: -1},
	}
	var total float64
	for _, a := range creds.Accounts {
		total += creds.Weights[a.Name]
		r.names = append(r.names, a.Name)
		r.pools = append(r.pools, a.Pool())
		r.cum = append(r.cum, total)
	}
	return r, nil
}

// Next returns the next proxy URI.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.pickPool()
	pool := r.pools[idx]

	candidates := pool
	if idx == r.state.Pool && len(pool) > 1 {
		candidates = slices.DeleteFunc(slices.Clone(pool), func(h string) bool {
			return h == r.state.Host
		})
		if len(candidates) == 0 {
			candidates = pool
		}
	}

	host := candidates[r.rng.IntN(len(candidates))]
	r.state = State{Pool: idx, Host: host}
	return host
}

// pickPool draws a pool index with probability proportional to its weight.
func (r *Rotator) pickPool() int {
	total := r.cum[len(r.cum)-1]
	x := r.rng.Float64() * total
	for i, c := range r.cum {
		if x < c {
			return i
		}
	}
	// x == total is only reachable through float rounding.
	for i := len(r.cum) - 1; i >= 0; i-- {
		if i == 0 || r.cum[i] > r.cum[i-1] {
			return i
		}
	}
	return 0
}

// Seq yields an unbounded stream of proxy URIs.
func (r *Rotator) Seq() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			if !yield(r.Next()) {
				return
			}
		}
	}
}

// State returns a copy of the previous selection.
func (r *Rotator) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pools describes the account pools in declared order.
func (r *Rotator) Pools() []PoolInfo {
	infos := make([]PoolInfo, len(r.pools))
	prev := 0.0
	for i := range r.pools {
		infos[i] = PoolInfo{Name: r.names[i], Weight: r.cum[i] - prev, Size: len(r.pools[i])}
		prev = r.cum[i]
	}
	return infos
}

// Redact masks the password of a proxy URI for logging.
func Redact(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid proxy>"
	}
	return u.Redacted()
}
