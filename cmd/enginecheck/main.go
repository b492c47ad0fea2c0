// enginecheck spawns the configured engine, runs one bounded search from the
// starting position, and reports what came back. Useful for verifying a
// deployment before pointing the server at it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/castlegate/chessd/internal/engine"
)

func main() {
	var (
		level = flag.Int("level", 10, "difficulty level 0-20")
		fen   = flag.String("fen", "startpos", "position to search")
	)
	flag.Parse()

	path := os.Getenv("STOCKFISH_PATH")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	eng, err := engine.New(ctx, path)
	if err != nil {
		log.Fatalf("spawn error: %v", err)
	}
	defer eng.Close()

	if err := eng.SetDifficulty(*level); err != nil {
		log.Fatalf("set difficulty error: %v", err)
	}

	budget := time.Duration(500+*level*150) * time.Millisecond
	reply, err := eng.BestMove(ctx, *fen, eng.SearchDepth(), budget)
	if err != nil {
		log.Fatalf("search error: %v", err)
	}

	log.Printf("bestmove=%s eval_cp=%d depth=%d elapsed=%s",
		reply.Move, reply.Evaluation, reply.Depth, reply.Elapsed)
}
