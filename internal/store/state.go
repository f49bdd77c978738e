package store

import (
	"github.com/celo-runner/internal/domain"
)

// Dialog is the single confirmation dialog
type Dialog struct {
	IsOpen  bool   `json:"is_open"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Run holds the counters of the run in progress
type Run struct {
	Stage   int64 `json:"stage"`
	Score   int64 `json:"score"`
	Coins   int64 `json:"coins"`
	Playing bool  `json:"playing"`
}

// State is the application state shared by every view
type State struct {
	Connected bool           `json:"connected"`
	Address   string         `json:"address,omitempty"`
	Player    *domain.Player `json:"player,omitempty"`
	// PlayerStale is set when the cached player must be reloaded
	PlayerStale     bool                  `json:"player_stale"`
	Run             Run                   `json:"run"`
	IsSavingSession bool                  `json:"is_saving_session"`
	Notification    *domain.Notification  `json:"notification,omitempty"`
	Queue           []domain.Notification `json:"queue,omitempty"`
	Dialog          Dialog                `json:"dialog"`
	Version         uint64                `json:"version"`
}

// Action is a typed state transition
type Action interface {
	actionName() string
}

type (
	// Connect records a connected wallet
	Connect struct{ Address string }
	// Disconnect clears the wallet and its player
	Disconnect struct{}
	// SetPlayer replaces the cached player
	SetPlayer struct{ Player *domain.Player }
	// InvalidatePlayer marks the cached player stale
	InvalidatePlayer struct{}
	// StartRun begins a run on stage unless one is playing
	StartRun struct{ Stage int64 }
	// AddScore adds to the run counters
	AddScore struct{ Score, Coins int64 }
	// EndRun stops the run, keeping its counters
	EndRun struct{}
	// SetSaving toggles the session save indicator
	SetSaving struct{ Saving bool }
	// PushNotification shows n or queues it behind the visible one
	PushNotification struct{ Notification domain.Notification }
	// DismissNotification hides the visible notification with ID and
	// promotes the next queued one
	DismissNotification struct{ ID string }
	// OpenDialog shows the confirmation dialog
	OpenDialog struct{ Title, Message string }
	// CloseDialog hides the confirmation dialog
	CloseDialog struct{}
)

func (Connect) actionName() string             { return "connect" }
func (Disconnect) actionName() string          { return "disconnect" }
func (SetPlayer) actionName() string           { return "set_player" }
func (InvalidatePlayer) actionName() string    { return "invalidate_player" }
func (StartRun) actionName() string            { return "start_run" }
func (AddScore) actionName() string            { return "add_score" }
func (EndRun) actionName() string              { return "end_run" }
func (SetSaving) actionName() string           { return "set_saving" }
func (PushNotification) actionName() string    { return "push_notification" }
func (DismissNotification) actionName() string { return "dismiss_notification" }
func (OpenDialog) actionName() string          { return "open_dialog" }
func (CloseDialog) actionName() string         { return "close_dialog" }

// Reduce applies a to s and returns the next state. It never mutates s.
func Reduce(s State, a Action) State {
	next := s
	next.Queue = append([]domain.Notification(nil), s.Queue...)

	switch a := a.(type) {
	case Connect:
		if next.Address != a.Address {
			next.Player = nil
		}
		next.Connected = true
		next.Address = a.Address
	case Disconnect:
		next.Connected = false
		next.Address = ""
		next.Player = nil
		next.PlayerStale = false
		next.Run = Run{}
		next.IsSavingSession = false
	case SetPlayer:
		next.Player = a.Player
		next.PlayerStale = false
	case InvalidatePlayer:
		next.PlayerStale = true
	case StartRun:
		if next.Run.Playing {
			return s
		}
		next.Run = Run{Stage: a.Stage, Playing: true}
	case AddScore:
		if next.Run.Playing {
			next.Run.Score += a.Score
			next.Run.Coins += a.Coins
		}
	case EndRun:
		next.Run.Playing = false
	case SetSaving:
		next.IsSavingSession = a.Saving
	case PushNotification:
		if next.Notification == nil {
			n := a.Notification
			next.Notification = &n
		} else {
			next.Queue = append(next.Queue, a.Notification)
		}
	case DismissNotification:
		if next.Notification == nil || next.Notification.ID != a.ID {
			return s
		}
		next.Notification = nil
		if len(next.Queue) > 0 {
			n := next.Queue[0]
			next.Notification = &n
			next.Queue = next.Queue[1:]
		}
	case OpenDialog:
		next.Dialog = Dialog{IsOpen: true, Title: a.Title, Message: a.Message}
	case CloseDialog:
		next.Dialog = Dialog{}
	default:
		return s
	}

	if len(next.Queue) == 0 {
		next.Queue = nil
	}
	next.Version = s.Version + 1
	return next
}
