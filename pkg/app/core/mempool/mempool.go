package mempool

import (
	"encoding/json"
	"sync"
)

// TxType buckets queued requests by how they are drained
type TxType int

const (
	TxNonOrder TxType = iota // addToken, deposit, withdraw
	TxCancel
	TxOrder // limit and market orders
)

func (t TxType) String() string {
	switch t {
	case TxNonOrder:
		return "non-order"
	case TxCancel:
		return "cancel"
	default:
		return "order"
	}
}

// ClassifyRaw classifies a raw signed request by its envelope type.
//
//	{"type":"deposit", ...}     -> TxNonOrder
//	{"type":"cancelOrder", ...} -> TxCancel
//	{"type":"limitOrder", ...}  -> TxOrder
//
// Malformed requests land in the order bucket; they are rejected when applied.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxOrder
	}

	switch envelope.Type {
	case "addToken", "deposit", "withdraw":
		return TxNonOrder
	case "cancelOrder":
		return TxCancel
	default:
		return TxOrder
	}
}

// Mempool holds requests waiting for the next drain in three FIFO queues.
// A drain yields non-order requests first, then cancels, then orders, so
// funds and cancellations land before the orders queued beside them.
type Mempool struct {
	mu       sync.Mutex
	nonOrder [][]byte
	cancel   [][]byte
	orders   [][]byte
	maxLen   int
}

// NewMempool creates a queue holding at most maxLen requests (0 = unbounded)
func NewMempool(maxLen int) *Mempool {
	return &Mempool{maxLen: maxLen}
}

// PushRaw classifies and enqueues a request. It reports false when the
// mempool is full.
func (m *Mempool) PushRaw(b []byte) bool {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxLen > 0 && m.lenLocked() >= m.maxLen {
		return false
	}
	switch ClassifyRaw(b) {
	case TxNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case TxCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
	return true
}

// Select returns up to maxBytes worth of requests in drain order and
// removes them from the mempool. maxBytes <= 0 takes everything.
func (m *Mempool) Select(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for len(*q) > 0 && !full {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.nonOrder) + len(m.cancel) + len(m.orders)
}
