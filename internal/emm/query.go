package emm

import (
	"fmt"
	"sync"

	"github.com/mundrapranay/silhouette-ste/algorithms/noise"
	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// QueryState is the position of a two-round query in its protocol.
type QueryState int

const (
	QueryAwaitingCount QueryState = iota
	QueryAwaitingSlots
	QueryResolved
	QueryFailed
)

func (s QueryState) String() string {
	switch s {
	case QueryAwaitingCount:
		return "awaiting-count"
	case QueryAwaitingSlots:
		return "awaiting-slots"
	case QueryResolved:
		return "resolved"
	case QueryFailed:
		return "failed"
	default:
		return fmt.Sprintf("query-state(%d)", int(s))
	}
}

// Query is the client side of one two-round lookup. Each step is valid in
// exactly one state; a failed step moves the query to QueryFailed.
type Query struct {
	label  Label
	keys   *crypto.Keys
	cipher *crypto.Cipher
	layout *dpLayout

	mu     sync.Mutex
	state  QueryState
	padded int
	values [][]byte
}

// State returns the current protocol state.
func (q *Query) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Label returns the queried label.
func (q *Query) Label() Label {
	return q.label
}

// PaddedCount returns the count sent in round two.
func (q *Query) PaddedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.padded
}

// Values returns the resolved values.
func (q *Query) Values() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.values
}

func (q *Query) fail(err error) error {
	q.mu.Lock()
	q.state = QueryFailed
	q.mu.Unlock()
	return err
}

func (q *Query) expect(op string, want QueryState) error {
	if q.state != want {
		return errs.Errorf(op, errs.ErrInvalidState, "query is %s, want %s", q.state, want)
	}
	return nil
}

// CountToken is the round-one token. It reveals no value slot.
func (q *Query) CountToken() (*SearchToken, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.expect("Query.CountToken", QueryAwaitingCount); err != nil {
		return nil, err
	}
	return &SearchToken{
		Kind:  TokenDelegated,
		Value: delegate(q.keys.GGM, domainCounters, q.layout.counters.seed, q.label),
		Count: 1,
		Seed:  q.layout.counters.seed,
	}, nil
}

// SlotsToken reads the count from the round-one answer, pads it with the
// label's keyed noise and returns the round-two token.
func (q *Query) SlotsToken(countSlots []index.Slot) (*SearchToken, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.expect("Query.SlotsToken", QueryAwaitingCount); err != nil {
		return nil, err
	}

	found, err := open(q.cipher, q.label, countSlots)
	if err != nil {
		q.state = QueryFailed
		return nil, err
	}
	count := 0
	if len(found) > 0 {
		if count, err = decodeCount(found[0]); err != nil {
			q.state = QueryFailed
			return nil, err
		}
	}

	padded, err := paddedCount(q.keys, q.label, count, q.layout.params)
	if err != nil {
		q.state = QueryFailed
		return nil, err
	}

	q.padded = padded
	q.state = QueryAwaitingSlots
	return &SearchToken{
		Kind:  TokenDelegated,
		Value: delegate(q.keys.GGM, domainValues, q.layout.values.seed, q.label),
		Count: padded,
		Seed:  q.layout.values.seed,
	}, nil
}

// Resolve decrypts the round-two answer.
func (q *Query) Resolve(slots []index.Slot) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.expect("Query.Resolve", QueryAwaitingSlots); err != nil {
		return nil, err
	}
	values, err := open(q.cipher, q.label, slots)
	if err != nil {
		q.state = QueryFailed
		return nil, err
	}
	q.values = values
	q.state = QueryResolved
	return values, nil
}

// paddedCount is the true count plus the label's keyed noise.
func paddedCount(keys *crypto.Keys, label Label, count int, p noise.Params) (int, error) {
	n, err := noise.SampleNoise(keys.PRF, crypto.LengthPrefixed([]byte(label)), p)
	if err != nil {
		return 0, err
	}
	padded := int64(count) + n
	if padded > maxPaddedCount {
		return 0, errs.Errorf("emm.paddedCount", errs.ErrInvalidParameter, "padded count %d exceeds %d", padded, maxPaddedCount)
	}
	return int(padded), nil
}
