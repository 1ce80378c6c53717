// Package types decodes client frames into typed commands and renders domain
// state into wire payloads.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	wire "github.com/DoyleJ11/memory-match-backend/pkg/types"
)

var (
	ErrBadJSON     = apperr.New(apperr.KindValidation, "bad json")
	ErrUnknownType = apperr.New(apperr.KindValidation, "unknown message type")
)

// DuelCommand is one of the duel client messages below.
type DuelCommand interface {
	isDuelCommand()
	Validate() error
}

type JoinQueue struct{}

type LeaveQueue struct{}

type PlayerReady struct {
	MatchID string `json:"matchId"`
}

type DuelFlip struct {
	MatchID   string `json:"matchId"`
	CardIndex *int   `json:"cardIndex"`
}

type Surrender struct {
	MatchID string `json:"matchId"`
}

type RejoinMatch struct {
	MatchID string `json:"matchId"`
}

func (JoinQueue) isDuelCommand()   {}
func (LeaveQueue) isDuelCommand()  {}
func (PlayerReady) isDuelCommand() {}
func (DuelFlip) isDuelCommand()    {}
func (Surrender) isDuelCommand()   {}
func (RejoinMatch) isDuelCommand() {}

func (JoinQueue) Validate() error     { return nil }
func (LeaveQueue) Validate() error    { return nil }
func (c PlayerReady) Validate() error { return required("matchId", c.MatchID) }
func (c Surrender) Validate() error   { return required("matchId", c.MatchID) }
func (c RejoinMatch) Validate() error { return required("matchId", c.MatchID) }

func (c DuelFlip) Validate() error {
	if err := required("matchId", c.MatchID); err != nil {
		return err
	}
	return cardIndex(c.CardIndex)
}

// RoyaleCommand is one of the battle royale client messages below.
type RoyaleCommand interface {
	isRoyaleCommand()
	Validate() error
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

type ToggleReady struct {
	RoomID string `json:"roomId"`
}

type StartMatch struct {
	RoomID string `json:"roomId"`
}

type RoyaleFlip struct {
	MatchID   string `json:"matchId"`
	CardIndex *int   `json:"cardIndex"`
}

// ProgressReport is shared by update_progress and player_finished.
type ProgressReport struct {
	MatchID        string  `json:"matchId"`
	PairsFound     int     `json:"pairsFound"`
	FlipCount      int     `json:"flipCount"`
	CompletionTime float64 `json:"completionTime"`
}

type UpdateProgress struct{ ProgressReport }

type PlayerFinished struct{ ProgressReport }

type KickPlayer struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type CloseRoom struct {
	RoomID string `json:"roomId"`
}

func (JoinRoom) isRoyaleCommand()       {}
func (ToggleReady) isRoyaleCommand()    {}
func (StartMatch) isRoyaleCommand()     {}
func (RoyaleFlip) isRoyaleCommand()     {}
func (UpdateProgress) isRoyaleCommand() {}
func (PlayerFinished) isRoyaleCommand() {}
func (KickPlayer) isRoyaleCommand()     {}
func (LeaveRoom) isRoyaleCommand()      {}
func (CloseRoom) isRoyaleCommand()      {}

func (c JoinRoom) Validate() error    { return required("roomId", c.RoomID) }
func (c ToggleReady) Validate() error { return required("roomId", c.RoomID) }
func (c StartMatch) Validate() error  { return required("roomId", c.RoomID) }
func (c LeaveRoom) Validate() error   { return required("roomId", c.RoomID) }
func (c CloseRoom) Validate() error   { return required("roomId", c.RoomID) }

func (c RoyaleFlip) Validate() error {
	if err := required("matchId", c.MatchID); err != nil {
		return err
	}
	return cardIndex(c.CardIndex)
}

func (c ProgressReport) Validate() error {
	if err := required("matchId", c.MatchID); err != nil {
		return err
	}
	switch {
	case c.PairsFound < 0:
		return apperr.Validationf("pairsFound must not be negative")
	case c.FlipCount < 0:
		return apperr.Validationf("flipCount must not be negative")
	case c.CompletionTime < 0 || math.IsNaN(c.CompletionTime) || math.IsInf(c.CompletionTime, 0):
		return apperr.Validationf("completionTime must be a non-negative number")
	}
	return nil
}

func (c KickPlayer) Validate() error {
	if err := required("roomId", c.RoomID); err != nil {
		return err
	}
	return required("playerId", c.PlayerID)
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperr.Validationf("%s is required", field)
	}
	return nil
}

func cardIndex(idx *int) error {
	if idx == nil {
		return apperr.Validationf("cardIndex is required")
	}
	if *idx < 0 {
		return apperr.Validationf("cardIndex must not be negative")
	}
	return nil
}

func decodeEnvelope(frame []byte) (wire.Envelope, error) {
	var env wire.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return wire.Envelope{}, apperr.Wrap(apperr.KindValidation, ErrBadJSON.Message, err)
	}
	if env.Type == "" {
		return wire.Envelope{}, apperr.Validationf("type is required")
	}
	return env, nil
}

func decodeData[T interface{ Validate() error }](data json.RawMessage) (T, error) {
	var cmd T
	if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		if err := json.Unmarshal(data, &cmd); err != nil {
			return cmd, apperr.Wrap(apperr.KindValidation, ErrBadJSON.Message, err)
		}
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// DecodeDuel parses and validates one duel frame.
func DecodeDuel(frame []byte) (DuelCommand, error) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case wire.DuelJoinQueue:
		return decodeData[JoinQueue](env.Data)
	case wire.DuelLeaveQueue:
		return decodeData[LeaveQueue](env.Data)
	case wire.DuelPlayerReady:
		return decodeData[PlayerReady](env.Data)
	case wire.DuelFlipCard:
		return decodeData[DuelFlip](env.Data)
	case wire.DuelSurrender:
		return decodeData[Surrender](env.Data)
	case wire.DuelRejoinMatch:
		return decodeData[RejoinMatch](env.Data)
	}
	return nil, apperr.Wrap(apperr.KindValidation, ErrUnknownType.Message, fmt.Errorf("%q", env.Type))
}

// DecodeRoyale parses and validates one battle royale frame.
func DecodeRoyale(frame []byte) (RoyaleCommand, error) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case wire.RoyaleJoinRoom:
		return decodeData[JoinRoom](env.Data)
	case wire.RoyaleToggleReady:
		return decodeData[ToggleReady](env.Data)
	case wire.RoyaleStartMatch:
		return decodeData[StartMatch](env.Data)
	case wire.RoyaleFlipCard:
		return decodeData[RoyaleFlip](env.Data)
	case wire.RoyaleUpdateProgress:
		return decodeData[UpdateProgress](env.Data)
	case wire.RoyalePlayerFinished:
		return decodeData[PlayerFinished](env.Data)
	case wire.RoyaleKickPlayer:
		return decodeData[KickPlayer](env.Data)
	case wire.RoyaleLeaveRoom:
		return decodeData[LeaveRoom](env.Data)
	case wire.RoyaleCloseRoom:
		return decodeData[CloseRoom](env.Data)
	}
	return nil, apperr.Wrap(apperr.KindValidation, ErrUnknownType.Message, fmt.Errorf("%q", env.Type))
}

// Encode renders a server frame. Payloads are plain structs, so marshalling
// cannot fail in practice.
func Encode(eventType string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(wire.Error{Message: "internal error"})
		eventType = wire.EvtError
	}
	frame, _ := json.Marshal(wire.Envelope{Type: eventType, Data: data})
	return frame
}

// ErrorFrame renders the player-safe message of err.
func ErrorFrame(err error) []byte {
	return Encode(wire.EvtError, wire.Error{Message: apperr.Message(err)})
}
