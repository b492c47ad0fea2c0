package game

import "errors"

var (
	// ErrGameNotFound is returned when no session exists under the id.
	ErrGameNotFound = errors.New("game not found")

	// ErrColorTaken is returned when the requested color slot is occupied.
	ErrColorTaken = errors.New("color already taken")

	// ErrNotYourTurn is returned when the submitting player does not match
	// the side-to-move's occupant. An AI-assigned color rejects all human
	// tokens.
	ErrNotYourTurn = errors.New("not your turn")

	// ErrIllegalMove is returned when a token matches no current legal move.
	ErrIllegalMove = errors.New("illegal move")

	// ErrNotAITurn is returned when an engine move is requested but the
	// side-to-move is not AI-controlled.
	ErrNotAITurn = errors.New("side to move is not AI-controlled")

	// ErrEngineUnavailable is returned when a session has no engine adapter.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrEngineMove is returned when the engine answered with a token
	// outside the current legal-move set. No state changes.
	ErrEngineMove = errors.New("engine returned an illegal move")
)
