// Package taxonomy persists the Domain > Scenario > Sub-scenario > Intention
// tree and the guidance attached to Intentions.
package taxonomy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	errx "github.com/wuxing-advisor/server/internal/core/error"
	"github.com/wuxing-advisor/server/pkg/database"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const (
	queryListByLevel = `SELECT id, level, parent_id, name, description_en
FROM knowledge_base
WHERE level = $1
ORDER BY id`

	queryListChildren = `SELECT id, level, parent_id, name, description_en
FROM knowledge_base
WHERE parent_id = $1
ORDER BY id`

	queryReadyLeaves = `SELECT kb.id, kb.level, kb.parent_id, kb.name, kb.description_en
FROM knowledge_base kb
JOIN leaf_content lc ON lc.leaf_id = kb.id
WHERE kb.parent_id = $1 AND kb.level = 4
ORDER BY kb.id`

	queryCountChildren = `SELECT COUNT(*) FROM knowledge_base WHERE parent_id = $1`

	queryChildExists = `SELECT 1 FROM knowledge_base WHERE level = $1 AND parent_id = $2 AND name = $3 LIMIT 1`

	queryRootExists = `SELECT 1 FROM knowledge_base WHERE level = 1 AND parent_id IS NULL AND name = $1 LIMIT 1`

	queryFindRootsByName = `SELECT id, level, parent_id, name, description_en
FROM knowledge_base
WHERE level = 1 AND LOWER(name) LIKE $1
ORDER BY id`

	queryGet = `SELECT id, level, parent_id, name, description_en FROM knowledge_base WHERE id = $1`

	queryInsert = `INSERT INTO knowledge_base (level, parent_id, name, description_en)
VALUES ($1, $2, $3, $4)
RETURNING id`

	queryPath = `SELECT l1.id, l1.name, l1.description_en,
       l2.id, l2.name, l2.description_en,
       l3.id, l3.name, l3.description_en,
       l4.id, l4.name, l4.description_en
FROM knowledge_base l4
JOIN knowledge_base l3 ON l4.parent_id = l3.id
JOIN knowledge_base l2 ON l3.parent_id = l2.id
JOIN knowledge_base l1 ON l2.parent_id = l1.id
WHERE l4.id = $1 AND l4.level = 4`

	queryLeafContent = `SELECT id, leaf_id, five_elements_insight, action_guide, communication_scripts, energy_harmonization
FROM leaf_content
WHERE leaf_id = $1`

	queryLeavesWithoutContent = `SELECT kb.id
FROM knowledge_base kb
LEFT JOIN leaf_content lc ON lc.leaf_id = kb.id
WHERE kb.level = 4 AND lc.id IS NULL
ORDER BY kb.id`

	queryLeavesWithoutContentUnderRoot = `SELECT l4.id
FROM knowledge_base l4
JOIN knowledge_base l3 ON l4.parent_id = l3.id
JOIN knowledge_base l2 ON l3.parent_id = l2.id
LEFT JOIN leaf_content lc ON lc.leaf_id = l4.id
WHERE l4.level = 4 AND l2.parent_id = $1 AND lc.id IS NULL
ORDER BY l4.id`

	queryInsertLeafContent = `INSERT INTO leaf_content (leaf_id, five_elements_insight, action_guide, communication_scripts, energy_harmonization)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	queryLevelCounts = `SELECT level, COUNT(*) FROM knowledge_base GROUP BY level ORDER BY level`
)

// underRoot selects nodes at a given depth below a Domain, keyed by level.
var underRoot = map[model.Level]string{
	model.LevelScenario: `SELECT l2.id, l2.level, l2.parent_id, l2.name, l2.description_en
FROM knowledge_base l2
WHERE l2.level = 2 AND l2.parent_id = $1
ORDER BY l2.id`,
	model.LevelSubScenario: `SELECT l3.id, l3.level, l3.parent_id, l3.name, l3.description_en
FROM knowledge_base l3
JOIN knowledge_base l2 ON l3.parent_id = l2.id
WHERE l3.level = 3 AND l2.parent_id = $1
ORDER BY l3.id`,
	model.LevelIntention: `SELECT l4.id, l4.level, l4.parent_id, l4.name, l4.description_en
FROM knowledge_base l4
JOIN knowledge_base l3 ON l4.parent_id = l3.id
JOIN knowledge_base l2 ON l3.parent_id = l2.id
WHERE l4.level = 4 AND l2.parent_id = $1
ORDER BY l4.id`,
}

// Store is the database/sql implementation of model.TaxonomyRepository.
// Every insert commits on its own so an interrupted batch leaves a valid tree.
type Store struct {
	DB      *sql.DB
	Dialect database.Dialect
}

var _ model.TaxonomyRepository = (*Store)(nil)

func NewStore(db *sql.DB, dialect database.Dialect) *Store {
	return &Store{DB: db, Dialect: dialect}
}

func (s *Store) q(query string) string {
	return database.Rebind(s.Dialect, query)
}

func (s *Store) queryNodes(ctx context.Context, op, query string, args ...any) ([]model.Node, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		logx.Error().Err(err).Str("op", op).Msg("Taxonomy query failed")
		return nil, errx.WrapDB(fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errx.WrapDB(fmt.Errorf("%s scan: %w", op, err))
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapDB(fmt.Errorf("%s rows: %w", op, err))
	}
	return nodes, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (model.Node, error) {
	var (
		n      model.Node
		level  int
		parent sql.NullInt64
	)
	if err := row.Scan(&n.ID, &level, &parent, &n.Name, &n.Description); err != nil {
		return model.Node{}, err
	}
	n.Level = model.Level(level)
	if parent.Valid {
		p := parent.Int64
		n.ParentID = &p
	}
	return n, nil
}

func (s *Store) ListByLevel(ctx context.Context, level model.Level) ([]model.Node, error) {
	if !level.Valid() {
		return nil, errx.ErrInvalidLevel
	}
	return s.queryNodes(ctx, "list by level", queryListByLevel, int(level))
}

func (s *Store) ListChildren(ctx context.Context, parentID int64) ([]model.Node, error) {
	return s.queryNodes(ctx, "list children", queryListChildren, parentID)
}

func (s *Store) ListReadyLeaves(ctx context.Context, parentID int64) ([]model.Node, error) {
	return s.queryNodes(ctx, "list ready leaves", queryReadyLeaves, parentID)
}

func (s *Store) ListUnderRoot(ctx context.Context, rootID int64, level model.Level) ([]model.Node, error) {
	if level == model.LevelDomain {
		n, err := s.Get(ctx, rootID)
		if err != nil {
			return nil, err
		}
		return []model.Node{*n}, nil
	}
	query, ok := underRoot[level]
	if !ok {
		return nil, errx.ErrInvalidLevel
	}
	return s.queryNodes(ctx, "list under root", query, rootID)
}

func (s *Store) CountChildren(ctx context.Context, parentID int64) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, s.q(queryCountChildren), parentID).Scan(&n); err != nil {
		logx.Error().Err(err).Int64("parent_id", parentID).Msg("Failed to count children")
		return 0, errx.WrapDB(fmt.Errorf("count children: %w", err))
	}
	return n, nil
}

func (s *Store) ChildExists(ctx context.Context, parentID *int64, level model.Level, name string) (bool, error) {
	var row *sql.Row
	if parentID == nil {
		row = s.DB.QueryRowContext(ctx, s.q(queryRootExists), name)
	} else {
		row = s.DB.QueryRowContext(ctx, s.q(queryChildExists), int(level), *parentID, name)
	}

	var one int
	switch err := row.Scan(&one); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, errx.WrapDB(fmt.Errorf("child exists: %w", err))
	}
	return true, nil
}

func (s *Store) FindRoots(ctx context.Context, term string) ([]model.Node, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if id, err := strconv.ParseInt(term, 10, 64); err == nil {
		n, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}
		if n.Level != model.LevelDomain {
			return nil, nil
		}
		return []model.Node{*n}, nil
	}
	return s.queryNodes(ctx, "find roots", queryFindRootsByName, "%"+strings.ToLower(term)+"%")
}

func (s *Store) Get(ctx context.Context, id int64) (*model.Node, error) {
	n, err := scanNode(s.DB.QueryRowContext(ctx, s.q(queryGet), id))
	if err != nil {
		return nil, errx.WrapDB(fmt.Errorf("get node %d: %w", id, err))
	}
	return &n, nil
}

func (s *Store) Insert(ctx context.Context, node model.NewNode) (int64, error) {
	if err := node.Validate(); err != nil {
		return 0, err
	}
	var parent sql.NullInt64
	if node.ParentID != nil {
		parent = sql.NullInt64{Int64: *node.ParentID, Valid: true}
	}

	var id int64
	err := s.DB.QueryRowContext(ctx, s.q(queryInsert), int(node.Level), parent, node.Name, node.Description).Scan(&id)
	if err != nil {
		logx.Error().Err(err).Str("name", node.Name).Int("level", int(node.Level)).Msg("Failed to insert node")
		return 0, errx.WrapDB(fmt.Errorf("insert node: %w", err))
	}
	return id, nil
}

func (s *Store) Path(ctx context.Context, leafID int64) (*model.TopicPath, error) {
	p := &model.TopicPath{}
	nodes := []*model.Node{&p.Domain, &p.Scenario, &p.SubScenario, &p.Intention}
	dest := make([]any, 0, 12)
	for _, n := range nodes {
		dest = append(dest, &n.ID, &n.Name, &n.Description)
	}
	if err := s.DB.QueryRowContext(ctx, s.q(queryPath), leafID).Scan(dest...); err != nil {
		return nil, errx.WrapDB(fmt.Errorf("path of %d: %w", leafID, err))
	}

	for i, n := range nodes {
		n.Level = model.Level(i + 1)
		if i > 0 {
			parent := nodes[i-1].ID
			n.ParentID = &parent
		}
	}
	return p, nil
}

func (s *Store) LeafContent(ctx context.Context, leafID int64) (*model.LeafContent, error) {
	var c model.LeafContent
	err := s.DB.QueryRowContext(ctx, s.q(queryLeafContent), leafID).
		Scan(&c.ID, &c.LeafID, &c.FiveElementsInsight, &c.ActionGuide, &c.CommunicationScripts, &c.EnergyHarmonization)
	if err != nil {
		return nil, errx.WrapDB(fmt.Errorf("leaf content %d: %w", leafID, err))
	}
	return &c, nil
}

func (s *Store) LeavesWithoutContent(ctx context.Context, rootID *int64) ([]int64, error) {
	query, args := queryLeavesWithoutContent, []any{}
	if rootID != nil {
		query, args = queryLeavesWithoutContentUnderRoot, []any{*rootID}
	}

	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errx.WrapDB(fmt.Errorf("leaves without content: %w", err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errx.WrapDB(fmt.Errorf("leaves without content scan: %w", err))
		}
		ids = append(ids, id)
	}
	return ids, errx.WrapDB(rows.Err())
}

func (s *Store) InsertLeafContent(ctx context.Context, c model.LeafContent) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, s.q(queryInsertLeafContent),
		c.LeafID, c.FiveElementsInsight, c.ActionGuide, c.CommunicationScripts, c.EnergyHarmonization,
	).Scan(&id)
	if err != nil {
		logx.Error().Err(err).Int64("leaf_id", c.LeafID).Msg("Failed to insert leaf content")
		return 0, errx.WrapDB(fmt.Errorf("insert leaf content: %w", err))
	}
	return id, nil
}

func (s *Store) LevelCounts(ctx context.Context) ([]model.LevelCount, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(queryLevelCounts))
	if err != nil {
		return nil, errx.WrapDB(fmt.Errorf("level counts: %w", err))
	}
	defer rows.Close()

	var out []model.LevelCount
	for rows.Next() {
		var lc model.LevelCount
		var level int
		if err := rows.Scan(&level, &lc.Count); err != nil {
			return nil, errx.WrapDB(fmt.Errorf("level counts scan: %w", err))
		}
		lc.Level = model.Level(level)
		out = append(out, lc)
	}
	return out, errx.WrapDB(rows.Err())
}

func (s *Store) Ping(ctx context.Context) error {
	return errx.WrapDB(s.DB.PingContext(ctx))
}
