package p2p

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/log"
)

// Handler routes inbound gossip into the node.
type Handler interface {
	// HandleTransaction ingests a gossiped payload transaction.
	HandleTransaction(txBytes []byte)
	// HandleValidatorTransaction ingests a gossiped validator transaction.
	HandleValidatorTransaction(txBytes []byte)
	// HandleNewBestBlock ingests a best-block announcement.
	HandleNewBestBlock(blockBytes []byte)
	// BlockByNumber returns the serialized accepted block at a height.
	BlockByNumber(height uint64) ([]byte, bool)
	// BlockByHash returns the serialized accepted block with a hash.
	BlockByHash(hash types.Hash) ([]byte, bool)
	// Info describes the local chain for the handshake response.
	Info() InfoResponse
}

// Manager runs the WebSocket gossip endpoint and the peer book. It is the
// broadcast surface the mempool and the block pipeline fan out through.
type Manager struct {
	handler Handler
	peers   *PeerSet
	server  *http.Server
	logger  *log.Logger
}

// NewManager creates a gossip manager routing inbound traffic to handler.
func NewManager(handler Handler) *Manager {
	return &Manager{
		handler: handler,
		peers:   NewPeerSet(),
		logger:  log.Default().Module("p2p"),
	}
}

// Peers returns the connected-peer book.
func (m *Manager) Peers() *PeerSet { return m.peers }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Listen serves the gossip endpoint on addr ("host:port") until Stop.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("p2p listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.serveWs)
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("p2p server stopped", "err", err)
		}
	}()
	m.logger.Info("p2p listening", "addr", addr)
	return nil
}

// Stop closes the endpoint and every peer connection.
func (m *Manager) Stop() {
	if m.server != nil {
		_ = m.server.Close()
	}
	for _, id := range m.peers.IDs() {
		m.peers.Remove(id)
	}
}

func (m *Manager) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	peer := &Peer{id: conn.RemoteAddr().String(), conn: conn}
	m.peers.Add(peer)
	go m.readLoop(peer)
}

// Dial connects out to a seed node and starts its read loop.
func (m *Manager) Dial(addr string) error {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		return fmt.Errorf("p2p dial %s: %w", addr, err)
	}
	peer := &Peer{id: addr, conn: conn}
	m.peers.Add(peer)
	go m.readLoop(peer)
	m.logger.Info("peer connected", "addr", addr)
	return nil
}

// Disconnect drops the peer with the given id.
func (m *Manager) Disconnect(id string) {
	m.peers.Remove(id)
}

func (m *Manager) readLoop(peer *Peer) {
	defer m.peers.Remove(peer.id)
	for {
		kind, msg, err := peer.conn.ReadMessage()
		if err != nil {
			m.logger.Debug("peer read ended", "peer", peer.id, "err", err)
			return
		}
		if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
			continue
		}
		m.dispatch(peer, msg)
	}
}

func (m *Manager) dispatch(peer *Peer, msg []byte) {
	cmd, payload, err := SplitMessage(msg)
	if err != nil {
		m.logger.Warn("bad message", "peer", peer.id, "err", err)
		return
	}
	switch cmd {
	case CmdInfo:
		info := m.handler.Info()
		info.Peers = m.encodePeerList()
		if err := peer.send(info.Encode()); err != nil {
			m.logger.Debug("info reply failed", "peer", peer.id, "err", err)
		}

	case CmdSendTransaction:
		m.handler.HandleTransaction(payload)

	case CmdSendBulkTransaction:
		txs, err := DecodeBulkPayload(payload)
		if err != nil {
			m.logger.Warn("bad bulk payload", "peer", peer.id, "err", err)
			return
		}
		for _, tx := range txs {
			m.handler.HandleTransaction(tx)
		}

	case CmdSendValidatorTransaction:
		m.handler.HandleValidatorTransaction(payload)

	case CmdSendBulkValidatorTransaction:
		txs, err := DecodeBulkPayload(payload)
		if err != nil {
			m.logger.Warn("bad bulk payload", "peer", peer.id, "err", err)
			return
		}
		for _, tx := range txs {
			m.handler.HandleValidatorTransaction(tx)
		}

	case CmdRequestBlockByNumber:
		height, err := DecodeRequestBlockByNumber(payload)
		if err != nil {
			return
		}
		if blockBytes, ok := m.handler.BlockByNumber(height); ok {
			m.sendBlock(peer, blockBytes)
		}

	case CmdRequestBlockByHash:
		hash, err := DecodeRequestBlockByHash(payload)
		if err != nil {
			return
		}
		if blockBytes, ok := m.handler.BlockByHash(hash); ok {
			m.sendBlock(peer, blockBytes)
		}

	case CmdRequestBlockRange:
		start, end, err := DecodeRequestBlockRange(payload)
		if err != nil {
			return
		}
		for h := start; h <= end; h++ {
			blockBytes, ok := m.handler.BlockByNumber(h)
			if !ok {
				break
			}
			m.sendBlock(peer, blockBytes)
		}

	case CmdNewBestBlock:
		m.handler.HandleNewBestBlock(payload)
	}
}

func (m *Manager) sendBlock(peer *Peer, blockBytes []byte) {
	if err := peer.send(EncodeNewBestBlock(blockBytes)); err != nil {
		m.logger.Debug("block reply failed", "peer", peer.id, "err", err)
	}
}

func (m *Manager) encodePeerList() []byte {
	var out []byte
	for _, id := range m.peers.IDs() {
		out = append(out, []byte(id)...)
		out = append(out, '\n')
	}
	return out
}

// BroadcastTx fans a payload transaction out to every connected peer.
func (m *Manager) BroadcastTx(tx *types.Transaction) {
	msg := EncodeSendTransaction(tx.Serialize())
	m.broadcast(msg)
}

// BroadcastValidatorTx fans a validator transaction out to every peer.
func (m *Manager) BroadcastValidatorTx(tx *types.Transaction) {
	msg := EncodeSendValidatorTransaction(tx.Serialize())
	m.broadcast(msg)
}

// BroadcastBlock announces a newly accepted best block to every peer.
func (m *Manager) BroadcastBlock(blockBytes []byte) {
	m.broadcast(EncodeNewBestBlock(blockBytes))
}

func (m *Manager) broadcast(msg []byte) {
	m.peers.each(func(p *Peer) {
		if err := p.send(msg); err != nil {
			m.logger.Debug("broadcast failed", "peer", p.id, "err", err)
		}
	})
}
