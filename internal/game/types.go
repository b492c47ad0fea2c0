package game

import (
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// Type classifies who controls each side of a session.
type Type string

const (
	HumanVsHuman Type = "human_vs_human"
	HumanVsAI    Type = "human_vs_ai"
	AIVsAI       Type = "ai_vs_ai"
)

// AICapable reports whether the session type may own an engine adapter.
func (t Type) AICapable() bool { return t == HumanVsAI || t == AIVsAI }

// Status is the session lifecycle state. Transitions never move backward.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposite side.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// ParseColor accepts "white"/"black" (case-insensitive, "w"/"b" tolerated).
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	}
	return "", false
}

func colorFromLib(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

// Player occupies one color slot of a session roster.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsAI   bool   `json:"isAI"`
	Color  Color  `json:"color"`
	Rating int    `json:"rating,omitempty"`
}

// Session is the authoritative per-game state. Position, roster, and status
// are guarded by mu; every mutating operation holds it for the full critical
// section so submissions to the same game serialize.
type Session struct {
	ID         string
	Type       Type
	Difficulty int

	mu         sync.RWMutex
	game       *nchess.Game
	players    map[Color]Player
	status     Status
	history    []string
	createdAt  time.Time
	lastMoveAt time.Time
	engine     Engine // nil when no AI opponent is available
}

// MoveResult is the transient value returned by move operations.
type MoveResult struct {
	Move        string `json:"move"`
	FEN         string `json:"fen"`
	Turn        Color  `json:"turn"`
	IsCheck     bool   `json:"isCheck"`
	IsCheckmate bool   `json:"isCheckmate"`
	IsStalemate bool   `json:"isStalemate"`
	GameStatus  Status `json:"gameStatus"`
	Evaluation  int    `json:"evaluation,omitempty"`
	Depth       int    `json:"depth,omitempty"`
}

// Snapshot is a read-only copy of session state for broadcast and mirroring.
type Snapshot struct {
	ID          string           `json:"id"`
	Type        Type             `json:"type"`
	FEN         string           `json:"fen"`
	Turn        Color            `json:"turn"`
	Status      Status           `json:"status"`
	Players     map[Color]Player `json:"players"`
	IsCheck     bool             `json:"isCheck"`
	IsCheckmate bool             `json:"isCheckmate"`
	IsStalemate bool             `json:"isStalemate"`
	Difficulty  int              `json:"difficulty,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	LastMoveAt  time.Time        `json:"lastMoveAt"`
	MoveHistory []string         `json:"moveHistory"`
}
