package mempool

import (
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected TxType
	}{
		{
			name:     "deposit",
			tx:       `{"type":"deposit","transfer":{"symbol":"DAI"},"signature":"0x1234"}`,
			expected: TxNonOrder,
		},
		{
			name:     "add token",
			tx:       `{"type":"addToken","addToken":{"symbol":"BAT"},"signature":"0x1234"}`,
			expected: TxNonOrder,
		},
		{
			name:     "cancel",
			tx:       `{"type":"cancelOrder","cancel":{"orderId":"7"},"signature":"0xabcd"}`,
			expected: TxCancel,
		},
		{
			name:     "market order",
			tx:       `{"type":"marketOrder","order":{"symbol":"BAT"},"signature":"0x1234"}`,
			expected: TxOrder,
		},
		{
			name:     "invalid JSON defaults to order",
			tx:       `{"invalid": "json"`,
			expected: TxOrder,
		},
		{
			name:     "non-JSON defaults to order",
			tx:       "UNKNOWN:foo",
			expected: TxOrder,
		},
		{
			name:     "empty request",
			tx:       "",
			expected: TxOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRaw([]byte(tt.tx))
			if got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool(0)

	orderTx1 := `{"type":"limitOrder","order":{"symbol":"BAT","side":0},"signature":"0x1111"}`
	orderTx2 := `{"type":"marketOrder","order":{"symbol":"BAT","side":1},"signature":"0x2222"}`
	cancelTx := `{"type":"cancelOrder","cancel":{"orderId":"1"},"signature":"0x4444"}`
	depositTx1 := `{"type":"deposit","transfer":{"symbol":"DAI"},"signature":"0x5555"}`
	depositTx2 := `{"type":"withdraw","transfer":{"symbol":"DAI"},"signature":"0x6666"}`

	m.PushRaw([]byte(orderTx1))
	m.PushRaw([]byte(cancelTx))
	m.PushRaw([]byte(depositTx1))
	m.PushRaw([]byte(orderTx2))
	m.PushRaw([]byte(depositTx2))

	txs := m.Select(0)
	if len(txs) != 5 {
		t.Fatalf("expected 5 txs, got %d", len(txs))
	}

	// non-order, then cancels, then orders; FIFO within each bucket
	expectOrder := []string{depositTx1, depositTx2, cancelTx, orderTx1, orderTx2}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool(0)

	m.PushRaw([]byte("N:1"))
	m.PushRaw([]byte("N:2"))
	m.PushRaw([]byte("N:3"))

	txs := m.Select(6) // only fits 2
	if len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_MaxBytesKeepsBucketOrder(t *testing.T) {
	m := NewMempool(0)

	big := `{"type":"deposit","transfer":{"symbol":"DAI","amount":"100000"}}`
	small := `{"type":"cancelOrder"}`
	m.PushRaw([]byte(big))
	m.PushRaw([]byte(small))

	// the deposit does not fit; the cancel must not jump ahead of it
	if txs := m.Select(int64(len(small))); len(txs) != 0 {
		t.Fatalf("expected nothing selected, got %d", len(txs))
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 pending, got %d", m.Len())
	}
}

func TestMempool_Full(t *testing.T) {
	m := NewMempool(2)
	if !m.PushRaw([]byte("a")) || !m.PushRaw([]byte("b")) {
		t.Fatal("expected first two pushes to succeed")
	}
	if m.PushRaw([]byte("c")) {
		t.Error("expected push into full mempool to fail")
	}
	m.Select(0)
	if !m.PushRaw([]byte("c")) {
		t.Error("expected push after drain to succeed")
	}
}
