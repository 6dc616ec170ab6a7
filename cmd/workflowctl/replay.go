package main

import (
	"context"
	"fmt"

	"goa.design/flowkernel/eventstore/sqlite"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/replay"
)

func replaySession(ctx context.Context, dbPath, sessionID string) error {
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}

	result, err := replay.Replay(ctx, store, ids.SessionID(sessionID))
	if err != nil {
		return err
	}

	fmt.Printf("workflow:    %s\n", result.WorkflowName)
	fmt.Printf("position:    %d\n", result.Position)
	fmt.Printf("resumePhase: %s\n", result.ResumePhase)
	fmt.Printf("pending:     %v\n", result.Pending)
	fmt.Printf("state:       %v\n", result.State)
	return nil
}
