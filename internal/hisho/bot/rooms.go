package bot

import "sync"

// peer is the transport-side identity behind a session: the user's MXID and
// the room the conversation happens in.
type peer struct {
	UserID string
	RoomID string
}

// roomDirectory maps session identifiers to their transport peers. It is
// rebuilt opportunistically as messages arrive, so notifications after a
// restart are best-effort until the user speaks again.
type roomDirectory struct {
	mu    sync.RWMutex
	peers map[int64]peer
}

func newRoomDirectory() *roomDirectory {
	return &roomDirectory{peers: make(map[int64]peer)}
}

// Observe records (or refreshes) the peer for a session.
func (d *roomDirectory) Observe(id int64, userID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[id] = peer{UserID: userID, RoomID: roomID}
}

// Lookup returns the peer for a session, if one has been observed.
func (d *roomDirectory) Lookup(id int64) (peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	return p, ok
}

// Forget drops the peer for a session.
func (d *roomDirectory) Forget(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, id)
}
