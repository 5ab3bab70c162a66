package p2p

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Peer is one connected remote node.
type Peer struct {
	id   string
	conn *websocket.Conn

	sendMu sync.Mutex // one writer on the socket at a time
}

// ID returns the peer's node identifier.
func (p *Peer) ID() string { return p.id }

// send writes one binary message, serializing writers.
func (p *Peer) send(msg []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// close tears the connection down.
func (p *Peer) close() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// PeerSet is the connected-peer book. Connect and disconnect serialize on
// its lock.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerSet creates an empty book.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]*Peer)}
}

// Add registers a peer, replacing any previous connection with the same id.
func (ps *PeerSet) Add(p *Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if old, ok := ps.peers[p.id]; ok {
		old.close()
	}
	ps.peers[p.id] = p
}

// Remove drops a peer by id, closing its connection.
func (ps *PeerSet) Remove(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p, ok := ps.peers[id]; ok {
		p.close()
		delete(ps.peers, id)
	}
}

// Get returns the peer with the given id.
func (ps *PeerSet) Get(id string) (*Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[id]
	return p, ok
}

// IDs returns the connected peer ids.
func (ps *PeerSet) IDs() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	ids := make([]string, 0, len(ps.peers))
	for id := range ps.peers {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of connected peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// each runs fn for every connected peer.
func (ps *PeerSet) each(fn func(*Peer)) {
	ps.mu.RLock()
	snapshot := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		snapshot = append(snapshot, p)
	}
	ps.mu.RUnlock()
	for _, p := range snapshot {
		fn(p)
	}
}
