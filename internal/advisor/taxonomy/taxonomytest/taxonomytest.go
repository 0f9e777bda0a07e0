// Package taxonomytest opens migrated in-memory stores for tests.
package taxonomytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/taxonomy"
	"github.com/wuxing-advisor/server/pkg/database"
)

// NewStore returns a store over a fresh, migrated in-memory sqlite database.
func NewStore(t testing.TB) *taxonomy.Store {
	t.Helper()
	cfg := &database.Config{Driver: string(database.SQLite), Path: ":memory:"}
	db, dialect, err := cfg.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, taxonomy.Migrate(db, dialect, "up", 0))
	return taxonomy.NewStore(db, dialect)
}

// Add inserts a node and returns its id.
func Add(t testing.TB, s *taxonomy.Store, level model.Level, parent *int64, name, desc string) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), model.NewNode{Level: level, ParentID: parent, Name: name, Description: desc})
	require.NoError(t, err)
	return id
}

// Ready attaches placeholder content to a leaf.
func Ready(t testing.TB, s *taxonomy.Store, leafID int64) {
	t.Helper()
	_, err := s.InsertLeafContent(context.Background(), model.LeafContent{
		LeafID:               leafID,
		FiveElementsInsight:  "Metal sharpens focus.",
		ActionGuide:          "1. Research the company.",
		CommunicationScripts: "\"I am ready.\"",
		EnergyHarmonization:  "Wear white.",
	})
	require.NoError(t, err)
}

// Chain seeds one Domain > Scenario > Sub-scenario > Intention path and returns the four ids.
func Chain(t testing.TB, s *taxonomy.Store, names [4]string) [4]int64 {
	t.Helper()
	var ids [4]int64
	var parent *int64
	for i, name := range names {
		ids[i] = Add(t, s, model.Level(i+1), parent, name, name+" description")
		p := ids[i]
		parent = &p
	}
	return ids
}

func Ptr(id int64) *int64 {
	return &id
}
