package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

const (
	protocolSnapshot = protocol.ID("/hyperdex/snapshot/1.0.0")
	outboundBuffer   = 1024
	streamTimeout    = 10 * time.Second
)

var ErrNoDepthSource = errors.New("peer serves no snapshots")

// DepthSource answers snapshot requests from peers
type DepthSource interface {
	Depth(sym token.Symbol) exchange.Depth
}

// Handlers receive market data published by other peers
type Handlers struct {
	OnTrade func(from peer.ID, tr orderbook.Trade)
	OnBook  func(from peer.ID, b BookWire)
}

// Feed gossips trades and book changes of the local exchange to other
// nodes. It implements exchange.Listener; balances are private and are
// never published.
type Feed struct {
	h      host.Host
	ps     *pubsub.PubSub
	log    *zap.SugaredLogger
	source DepthSource

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	// Listener callbacks run on the exchange's caller goroutine, so
	// publishing goes through a buffer drained by publishLoop
	out    chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup

	muH      sync.RWMutex
	handlers Handlers
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Source     DepthSource // nil disables the snapshot protocol and book publishing
	Logger     *zap.SugaredLogger
}

func NewFeed(ctx context.Context, cfg Config) (*Feed, error) {
	if cfg.Topic == "" {
		return nil, errors.New("p2p: topic required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	f := &Feed{
		h:      h,
		ps:     ps,
		log:    log,
		source: cfg.Source,
		out:    make(chan []byte, outboundBuffer),
		cancel: cancel,
	}

	if f.topic, err = ps.Join(cfg.Topic); err != nil {
		f.Close()
		return nil, err
	}
	if f.sub, err = f.topic.Subscribe(); err != nil {
		f.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if f.source != nil {
		h.SetStreamHandler(protocolSnapshot, f.handleSnapshotStream)
	}

	f.wg.Add(2)
	go f.publishLoop(ctx)
	go f.readLoop(ctx)

	log.Infow("p2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return f, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (f *Feed) SetHandlers(h Handlers) { f.muH.Lock(); f.handlers = h; f.muH.Unlock() }

func (f *Feed) ID() peer.ID { return f.h.ID() }

// Addrs returns dialable addresses including the peer id, suitable as
// another node's bootstrap entries
func (f *Feed) Addrs() []string {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: f.h.ID(), Addrs: f.h.Addrs()})
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func (f *Feed) Close() error {
	f.cancel()
	if f.sub != nil {
		f.sub.Cancel()
	}
	f.wg.Wait()
	if f.topic != nil {
		f.topic.Close()
	}
	return f.h.Close()
}

// exchange.Listener

func (f *Feed) TradeExecuted(tr orderbook.Trade) {
	f.enqueue(kindTrade, TradeWire{Trade: tr})
}

func (f *Feed) BookChanged(sym token.Symbol) {
	if f.source == nil {
		return
	}
	f.enqueue(kindBook, BookWire{Depth: f.source.Depth(sym), Time: time.Now().UnixMilli()})
}

func (f *Feed) BalanceChanged(ledger.Entry) {}

var _ exchange.Listener = (*Feed)(nil)

func (f *Feed) enqueue(kind wireKind, v any) {
	data, err := encodeEvent(kind, v)
	if err != nil {
		f.log.Warnw("p2p_encode_failed", "kind", kind, "err", err)
		return
	}
	select {
	case f.out <- data:
	default:
		f.log.Warnw("p2p_outbound_full", "kind", kind)
	}
}

func (f *Feed) publishLoop(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-f.out:
			if err := f.topic.Publish(ctx, data); err != nil && ctx.Err() == nil {
				f.log.Warnw("p2p_publish_failed", "err", err)
			}
		}
	}
}

// inbound

func (f *Feed) readLoop(ctx context.Context) {
	defer f.wg.Done()
	for {
		msg, err := f.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == f.h.ID() {
			continue
		}
		var env EventWire
		if err := gobDecode(msg.Data, &env); err != nil {
			f.log.Debugw("p2p_bad_message", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}

		f.muH.RLock()
		h := f.handlers
		f.muH.RUnlock()

		switch env.Kind {
		case kindTrade:
			var w TradeWire
			if err := gobDecode(env.Payload, &w); err != nil {
				continue
			}
			if h.OnTrade != nil {
				h.OnTrade(msg.ReceivedFrom, w.Trade)
			}
		case kindBook:
			var w BookWire
			if err := gobDecode(env.Payload, &w); err != nil {
				continue
			}
			if h.OnBook != nil {
				h.OnBook(msg.ReceivedFrom, w)
			}
		default:
			f.log.Debugw("p2p_unknown_kind", "from", msg.ReceivedFrom.String(), "kind", env.Kind)
		}
	}
}

// RequestSnapshot asks a peer for the current depth of sym
func (f *Feed) RequestSnapshot(ctx context.Context, p peer.ID, sym token.Symbol) (BookWire, error) {
	s, err := f.h.NewStream(ctx, p, protocolSnapshot)
	if err != nil {
		return BookWire{}, fmt.Errorf("%w: %v", ErrNoDepthSource, err)
	}
	defer s.Close()
	s.SetDeadline(time.Now().Add(streamTimeout))

	req, err := gobEncode(SnapshotRequest{Symbol: sym})
	if err != nil {
		return BookWire{}, err
	}
	if _, err := s.Write(req); err != nil {
		return BookWire{}, err
	}
	if err := s.CloseWrite(); err != nil {
		return BookWire{}, err
	}

	data, err := io.ReadAll(s)
	if err != nil {
		return BookWire{}, err
	}
	var w BookWire
	if err := gobDecode(data, &w); err != nil {
		return BookWire{}, err
	}
	return w, nil
}

func (f *Feed) handleSnapshotStream(s network.Stream) {
	defer s.Close()
	s.SetDeadline(time.Now().Add(streamTimeout))

	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	var req SnapshotRequest
	if err := gobDecode(data, &req); err != nil {
		s.Reset()
		return
	}

	reply, err := gobEncode(BookWire{Depth: f.source.Depth(req.Symbol), Time: time.Now().UnixMilli()})
	if err != nil {
		s.Reset()
		return
	}
	if _, err := s.Write(reply); err != nil {
		f.log.Debugw("p2p_snapshot_write_failed", "peer", s.Conn().RemotePeer().String(), "err", err)
	}
}
