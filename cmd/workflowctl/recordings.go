package main

import (
	"context"
	"fmt"
	"path/filepath"

	"goa.design/flowkernel/recorder"
	"goa.design/flowkernel/recorder/filetree"
)

func listRecordings(ctx context.Context, root string) error {
	store, err := filetree.Open(filepath.Clean(root))
	if err != nil {
		return fmt.Errorf("open %s: %w", root, err)
	}
	rec := recorder.New(store)

	fingerprints, err := rec.List(ctx)
	if err != nil {
		return err
	}
	if len(fingerprints) == 0 {
		fmt.Println("no recordings")
		return nil
	}
	for _, fp := range fingerprints {
		fmt.Println(fp)
	}
	return nil
}
