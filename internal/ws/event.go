package ws

import "encoding/json"

// Event is the wire envelope. Every frame in either direction is a type tag
// plus an opaque payload decoded by the matching handler.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event types.
const (
	EventNewAIGame = "new_ai_game"
	EventMove      = "move"
	EventAIMove    = "ai_move"
	EventGameOver  = "game_over"
)

// Outbound event types. EventAIMove and EventGameOver appear in both
// directions.
const (
	EventGameState = "game_state"
	EventError     = "error"
)

// NewAIGamePayload requests a fresh human-vs-AI session on the connection's
// game id.
type NewAIGamePayload struct {
	Difficulty  int    `json:"difficulty"`
	PlayerID    string `json:"playerId"`
	PlayerName  string `json:"playerName"`
	PlayerColor string `json:"playerColor"`
}

// MovePayload submits a move either as a single UCI token or as coordinate
// parts.
type MovePayload struct {
	Move      string `json:"move"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion"`
}

// GameOverPayload reports or relays a game's final result.
type GameOverPayload struct {
	Result string `json:"result"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// AIMoveBroadcast carries an applied engine move plus the resulting position.
type AIMoveBroadcast struct {
	Move        string `json:"move"`
	From        string `json:"from"`
	To          string `json:"to"`
	Promotion   string `json:"promotion,omitempty"`
	FEN         string `json:"fen"`
	Turn        string `json:"turn"`
	IsCheck     bool   `json:"isCheck"`
	IsCheckmate bool   `json:"isCheckmate"`
	IsStalemate bool   `json:"isStalemate"`
	GameStatus  string `json:"gameStatus"`
	Evaluation  int    `json:"evaluation,omitempty"`
	Depth       int    `json:"depth,omitempty"`
}

// ErrorPayload is sent back to the offending or requesting client.
type ErrorPayload struct {
	Message string `json:"message"`
}

func mustEvent(eventType string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		// payload types are all plain structs; this cannot fail at runtime
		panic(err)
	}
	return Event{Type: eventType, Payload: raw}
}

func errorEvent(message string) Event {
	return mustEvent(EventError, ErrorPayload{Message: message})
}
