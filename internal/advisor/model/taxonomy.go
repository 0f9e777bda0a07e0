package model

import (
	"context"
	"fmt"

	errx "github.com/wuxing-advisor/server/internal/core/error"
)

// Level is the depth of a taxonomy node, 1 (Domain) through 4 (Intention).
type Level int

const (
	LevelDomain      Level = 1
	LevelScenario    Level = 2
	LevelSubScenario Level = 3
	LevelIntention   Level = 4
)

func (l Level) Valid() bool {
	return l >= LevelDomain && l <= LevelIntention
}

// Parent returns the level directly above l. Domains have no parent level.
func (l Level) Parent() Level {
	return l - 1
}

func (l Level) String() string {
	switch l {
	case LevelDomain:
		return "Domain"
	case LevelScenario:
		return "Scenario"
	case LevelSubScenario:
		return "Sub-scenario"
	case LevelIntention:
		return "Intention"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Node is one row of the knowledge_base tree.
type Node struct {
	ID          int64  `json:"id"`
	Level       Level  `json:"level"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewNode is the insert payload for a node.
type NewNode struct {
	Level       Level
	ParentID    *int64
	Name        string
	Description string
}

// Validate checks the parent/level shape of a node before insertion.
func (n NewNode) Validate() error {
	if !n.Level.Valid() {
		return fmt.Errorf("level %d: %w", n.Level, errx.ErrInvalidLevel)
	}
	if n.Level == LevelDomain && n.ParentID != nil {
		return fmt.Errorf("domain %q must not have a parent", n.Name)
	}
	if n.Level > LevelDomain && n.ParentID == nil {
		return fmt.Errorf("%s %q requires a parent", n.Level, n.Name)
	}
	if n.Name == "" {
		return fmt.Errorf("%s name is empty", n.Level)
	}
	return nil
}

// LeafContent holds the generated guidance attached to one Intention.
type LeafContent struct {
	ID                   int64  `json:"id"`
	LeafID               int64  `json:"leaf_id"`
	FiveElementsInsight  string `json:"five_elements_insight"`
	ActionGuide          string `json:"action_guide"`
	CommunicationScripts string `json:"communication_scripts"`
	EnergyHarmonization  string `json:"energy_harmonization"`
}

// TopicPath is a resolved Domain > Scenario > Sub-scenario > Intention chain.
type TopicPath struct {
	Domain      Node `json:"domain"`
	Scenario    Node `json:"scenario"`
	SubScenario Node `json:"sub_scenario"`
	Intention   Node `json:"intention"`
}

// LeafID is the id of the Intention at the end of the path.
func (p TopicPath) LeafID() int64 {
	return p.Intention.ID
}

// Names returns the four node names coarsest first.
func (p TopicPath) Names() [4]string {
	return [4]string{p.Domain.Name, p.Scenario.Name, p.SubScenario.Name, p.Intention.Name}
}

// Context renders "Domain > Scenario > Sub-scenario".
func (p TopicPath) Context() string {
	return p.Domain.Name + " > " + p.Scenario.Name + " > " + p.SubScenario.Name
}

// LevelCount is the number of nodes stored at one level.
type LevelCount struct {
	Level Level
	Count int
}

type TaxonomyRepository interface {
	// ListByLevel returns every node at level ordered by id.
	ListByLevel(ctx context.Context, level Level) ([]Node, error)

	// ListChildren returns the direct children of parentID ordered by id.
	ListChildren(ctx context.Context, parentID int64) ([]Node, error)

	// ListReadyLeaves returns Intention children of parentID that have content.
	ListReadyLeaves(ctx context.Context, parentID int64) ([]Node, error)

	// ListUnderRoot returns nodes at level inside one Domain's subtree.
	ListUnderRoot(ctx context.Context, rootID int64, level Level) ([]Node, error)

	// CountChildren counts the direct children of parentID.
	CountChildren(ctx context.Context, parentID int64) (int, error)

	// ChildExists reports an exact, case-sensitive name match among siblings.
	// A nil parentID checks Domains.
	ChildExists(ctx context.Context, parentID *int64, level Level, name string) (bool, error)

	// FindRoots resolves a Domain by numeric id or case-insensitive name fragment.
	FindRoots(ctx context.Context, term string) ([]Node, error)

	Get(ctx context.Context, id int64) (*Node, error)
	Insert(ctx context.Context, node NewNode) (int64, error)

	// Path loads the four ancestors of an Intention.
	Path(ctx context.Context, leafID int64) (*TopicPath, error)

	LeafContent(ctx context.Context, leafID int64) (*LeafContent, error)

	// LeavesWithoutContent lists Intention ids lacking content, optionally within one Domain.
	LeavesWithoutContent(ctx context.Context, rootID *int64) ([]int64, error)

	InsertLeafContent(ctx context.Context, content LeafContent) (int64, error)
	LevelCounts(ctx context.Context) ([]LevelCount, error)
	Ping(ctx context.Context) error
}
