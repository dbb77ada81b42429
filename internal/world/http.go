package world

import (
	"errors"
	"fmt"

	"github.com/OCAP2/rigstream/internal/httpapi"
	"github.com/OCAP2/rigstream/internal/scene"
)

// AddObject inserts a scene object and returns its uid.
func (w *World) AddObject(o *scene.Object) (uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.deps.Scene.Add(o); err != nil {
		return 0, err
	}
	return o.UID, nil
}

// Objects lists the scene for the HTTP index. Objects streamed to a peer are
// marked remote.
func (w *World) Objects() []httpapi.ObjectInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	remote := map[uint16]bool{}
	for _, peer := range w.deps.Scene.Peers() {
		for _, o := range w.deps.Scene.PeerObjects(peer) {
			remote[o.UID] = true
		}
	}

	var out []httpapi.ObjectInfo
	for _, h := range w.deps.Scene.Handles() {
		o, ok := w.deps.Scene.Get(h)
		if !ok {
			continue
		}
		out = append(out, httpapi.ObjectInfo{
			UID:    o.UID,
			Name:   o.Name,
			Kind:   o.Kind.String(),
			Remote: remote[o.UID],
		})
	}
	return out
}

// SetPeerStreaming turns streaming of one object to a peer host on or off
// and returns the address the peer receives frames on.
func (w *World) SetPeerStreaming(uid uint16, peer string, on bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, _, ok := w.deps.Scene.ByUID(uid)
	if !ok {
		return "", fmt.Errorf("%w: uid %d", httpapi.ErrNotFound, uid)
	}
	if w.deps.Peers == nil {
		return "", errors.New("peer streaming disabled")
	}

	var addr string
	if on {
		var err error
		if addr, err = w.deps.Peers.Enable(peer); err != nil {
			return "", err
		}
	} else {
		addr, _ = w.deps.Peers.Addr(peer)
	}
	if err := w.deps.Scene.EnablePeerStreaming(h, peer, on); err != nil {
		return "", err
	}
	return addr, nil
}
