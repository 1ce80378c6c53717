// Package lobby is a broadcast channel actor: one goroutine owns the member
// set of a duel match or battle-royale room and fans payloads out to it.
package lobby

import (
	"context"
	"slices"
)

// Subscriber is a connected socket. Deliver must not block; returning false
// means the subscriber could not keep up and is dropped from the channel.
type Subscriber interface {
	ClientID() string
	UserID() string
	Deliver(payload []byte) bool
}

type Msg interface{ isLobbyMsg() }

type Join struct{ Sub Subscriber }

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

// Broadcast goes to every member except connections of ExceptUser.
type Broadcast struct {
	Payload    []byte
	ExceptUser string
}

func (Broadcast) isLobbyMsg() {}

// Direct goes to one connection, or to every connection of UserID when
// ClientID is empty.
type Direct struct {
	ClientID string
	UserID   string
	Payload  []byte
	Reply    chan bool
}

func (Direct) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Member struct {
	ClientID string
	UserID   string
}

type View struct {
	Name    string
	Version int
	Members []Member
}

func (v View) HasUser(userID string) bool {
	return slices.ContainsFunc(v.Members, func(m Member) bool { return m.UserID == userID })
}

type Lobby struct {
	name    string
	inbox   chan Msg
	version int
	clients map[string]Subscriber
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewLobby(parent context.Context, name string) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		name:    name,
		inbox:   make(chan Msg, 64),
		clients: make(map[string]Subscriber),
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) Name() string { return l.name }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.Sub.ClientID()] = msg.Sub

			case Leave:
				delete(l.clients, msg.ClientID)

			case Broadcast:
				l.version++
				l.broadcast(msg)

			case Direct:
				delivered := l.direct(msg)
				if msg.Reply != nil {
					msg.Reply <- delivered
				}

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) shutdown() {
	clear(l.clients)
	l.cancel()
}

func (l *Lobby) broadcast(msg Broadcast) {
	for id, sub := range l.clients {
		if msg.ExceptUser != "" && sub.UserID() == msg.ExceptUser {
			continue
		}
		if !sub.Deliver(msg.Payload) {
			// Slow subscriber; it closes itself.
			delete(l.clients, id)
		}
	}
}

func (l *Lobby) direct(msg Direct) bool {
	delivered := false
	for id, sub := range l.clients {
		if msg.ClientID != "" && id != msg.ClientID {
			continue
		}
		if msg.ClientID == "" && sub.UserID() != msg.UserID {
			continue
		}
		if sub.Deliver(msg.Payload) {
			delivered = true
		} else {
			delete(l.clients, id)
		}
	}
	return delivered
}

func (l *Lobby) view() View {
	v := View{Name: l.name, Version: l.version, Members: make([]Member, 0, len(l.clients))}
	for id, sub := range l.clients {
		v.Members = append(v.Members, Member{ClientID: id, UserID: sub.UserID()})
	}
	slices.SortFunc(v.Members, func(a, b Member) int {
		switch {
		case a.ClientID < b.ClientID:
			return -1
		case a.ClientID > b.ClientID:
			return 1
		}
		return 0
	})
	return v
}

// Inbox exposes the actor's mailbox. Prefer the helpers below, which do not
// block once the lobby has shut down.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) send(m Msg) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *Lobby) Join(sub Subscriber) { l.send(Join{Sub: sub}) }

func (l *Lobby) Leave(clientID string) { l.send(Leave{ClientID: clientID}) }

func (l *Lobby) Broadcast(payload []byte) { l.send(Broadcast{Payload: payload}) }

func (l *Lobby) BroadcastExcept(payload []byte, userID string) {
	l.send(Broadcast{Payload: payload, ExceptUser: userID})
}

// SendToUser reports whether any connection of the user got the payload.
func (l *Lobby) SendToUser(userID string, payload []byte) bool {
	return l.deliverDirect(Direct{UserID: userID, Payload: payload})
}

func (l *Lobby) SendToClient(clientID string, payload []byte) bool {
	return l.deliverDirect(Direct{ClientID: clientID, Payload: payload})
}

func (l *Lobby) deliverDirect(d Direct) bool {
	d.Reply = make(chan bool, 1)
	if !l.send(d) {
		return false
	}
	select {
	case ok := <-d.Reply:
		return ok
	case <-l.ctx.Done():
		return false
	}
}

// State returns a snapshot of the member set; ok is false after shutdown.
func (l *Lobby) State() (View, bool) {
	reply := make(chan View, 1)
	if !l.send(GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-l.ctx.Done():
		return View{}, false
	}
}

func (l *Lobby) Close() { l.send(Shutdown{}) }

// Done is closed once the lobby stops.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }
