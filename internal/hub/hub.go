// Package hub owns the named broadcast channels of the running server.
package hub

import (
	"context"

	"github.com/DoyleJ11/memory-match-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	Name  string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the named lobby, creating it if needed.
type EnsureLobby struct {
	Name  string
	Reply chan *lobby.Lobby
}

// RemoveLobby drops the lobby and shuts it down.
type RemoveLobby struct {
	Name string
}

type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				lb := h.lobbies[msg.Name]
				if lb != nil && isDone(lb) {
					delete(h.lobbies, msg.Name)
					lb = nil
				}
				msg.Reply <- lb // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Name]; lb != nil && !isDone(lb) {
					msg.Reply <- lb
					break
				}
				lb := lobby.NewLobby(h.ctx, msg.Name)
				h.lobbies[msg.Name] = lb
				msg.Reply <- lb

			case RemoveLobby:
				if lb := h.lobbies[msg.Name]; lb != nil {
					lb.Close()
					delete(h.lobbies, msg.Name)
				}

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Close()
	}
	clear(h.lobbies)
	h.cancel()
}

func isDone(lb *lobby.Lobby) bool {
	select {
	case <-lb.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) send(m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) request(m HubMsg, reply chan *lobby.Lobby) *lobby.Lobby {
	if !h.send(m) {
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-h.ctx.Done():
		return nil
	}
}

// Ensure returns nil only after the hub has shut down.
func (h *Hub) Ensure(name string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	return h.request(EnsureLobby{Name: name, Reply: reply}, reply)
}

func (h *Hub) Get(name string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	return h.request(GetLobby{Name: name, Reply: reply}, reply)
}

func (h *Hub) Remove(name string) { h.send(RemoveLobby{Name: name}) }

func (h *Hub) Len() int {
	reply := make(chan int, 1)
	if !h.send(CountLobbies{Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.ctx.Done():
		return 0
	}
}

func (h *Hub) Shutdown() { h.send(ShutdownHub{}) }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }
