// Command workflowctl is a small operator-facing harness around the kernel:
// run the bundled demo workflow against an in-memory provider, replay a
// persisted session from a SQLite database, or list the recordings cached in
// a file-tree recorder directory.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "run":
		err = runDemo(ctx)
	case "replay":
		if len(os.Args) != 4 {
			fmt.Fprintln(os.Stderr, "usage: workflowctl replay <db> <session-id>")
			os.Exit(1)
		}
		err = replaySession(ctx, os.Args[2], os.Args[3])
	case "recordings":
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: workflowctl recordings <dir>")
			os.Exit(1)
		}
		err = listRecordings(ctx, os.Args[2])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "workflowctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  workflowctl run
  workflowctl replay <db> <session-id>
  workflowctl recordings <dir>`)
}
