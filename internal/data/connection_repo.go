package data

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"querydeck/internal/core"
)

// ConnectionRepo stores the category -> group -> connection hierarchy.
type ConnectionRepo struct {
	db *sql.DB
}

func NewConnectionRepo(db *sql.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

func (r *ConnectionRepo) CreateCategory(name string) (*core.Category, error) {
	res, err := r.db.Exec(`INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.Category{ID: id, Name: name}, nil
}

// DeleteCategory removes the category with its groups, connections and their history.
func (r *ConnectionRepo) DeleteCategory(id int64) error {
	return r.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM query_history WHERE connection_id IN (
			SELECT c.id FROM connections c JOIN connection_groups g ON g.id = c.group_id WHERE g.category_id = ?)`, id); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM categories WHERE id = ?`, id)
		return err
	})
}

func (r *ConnectionRepo) CreateGroup(categoryID int64, name string) (*core.Group, error) {
	res, err := r.db.Exec(`INSERT INTO connection_groups (category_id, name) VALUES (?, ?)`, categoryID, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.Group{ID: id, CategoryID: categoryID, Name: name}, nil
}

func (r *ConnectionRepo) DeleteGroup(id int64) error {
	return r.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM query_history WHERE connection_id IN (
			SELECT id FROM connections WHERE group_id = ?)`, id); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM connection_groups WHERE id = ?`, id)
		return err
	})
}

func (r *ConnectionRepo) Create(conn *core.ConnectionDescriptor) error {
	opts, err := encodeOptions(conn.Options)
	if err != nil {
		return err
	}
	query := `INSERT INTO connections (group_id, name, kind, driver, path, host, port, database_name, username, password_enc, options)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.Exec(query, conn.GroupID, conn.Name, string(conn.Kind), conn.Driver, conn.Path,
		conn.Host, conn.Port, conn.Database, conn.User, conn.PasswordEnc, opts)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	conn.ID = id
	return nil
}

const connectionColumns = `c.id, c.group_id, c.name, c.kind, c.driver, c.path, c.host, c.port, c.database_name, c.username, c.password_enc, c.options`

func scanConnection(s interface{ Scan(...any) error }, extra ...any) (core.ConnectionDescriptor, error) {
	var c core.ConnectionDescriptor
	var kind, opts string
	dest := append([]any{&c.ID, &c.GroupID, &c.Name, &kind, &c.Driver, &c.Path, &c.Host, &c.Port,
		&c.Database, &c.User, &c.PasswordEnc, &opts}, extra...)
	if err := s.Scan(dest...); err != nil {
		return c, err
	}
	c.Kind = core.ConnectionKind(kind)
	if opts != "" && opts != "{}" {
		if err := json.Unmarshal([]byte(opts), &c.Options); err != nil {
			return c, fmt.Errorf("decode options of connection %d: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r *ConnectionRepo) GetByID(id int64) (*core.ConnectionDescriptor, error) {
	row := r.db.QueryRow(`SELECT `+connectionColumns+` FROM connections c WHERE c.id = ?`, id)
	c, err := scanConnection(row)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConnectionRepo) Update(conn *core.ConnectionDescriptor) error {
	opts, err := encodeOptions(conn.Options)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(`UPDATE connections SET group_id=?, name=?, kind=?, driver=?, path=?, host=?, port=?,
		database_name=?, username=?, password_enc=?, options=? WHERE id=?`,
		conn.GroupID, conn.Name, string(conn.Kind), conn.Driver, conn.Path, conn.Host, conn.Port,
		conn.Database, conn.User, conn.PasswordEnc, opts, conn.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *ConnectionRepo) Delete(id int64) error {
	return r.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM query_history WHERE connection_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM connections WHERE id = ?`, id)
		return err
	})
}

// Tree returns every category with its groups and connections, ordered by name.
func (r *ConnectionRepo) Tree() ([]core.Category, error) {
	cats, err := r.categories()
	if err != nil {
		return nil, err
	}
	catSlot := make(map[int64]int, len(cats))
	for i := range cats {
		catSlot[cats[i].ID] = i
	}

	groups, err := r.db.Query(`SELECT id, category_id, name FROM connection_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer groups.Close()

	groupIndex := make(map[int64][2]int) // group id -> (category slot, group slot)
	for groups.Next() {
		var g core.Group
		if err := groups.Scan(&g.ID, &g.CategoryID, &g.Name); err != nil {
			return nil, err
		}
		ci, ok := catSlot[g.CategoryID]
		if !ok {
			continue
		}
		cats[ci].Groups = append(cats[ci].Groups, g)
		groupIndex[g.ID] = [2]int{ci, len(cats[ci].Groups) - 1}
	}
	if err := groups.Err(); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT ` + connectionColumns + ` FROM connections c ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		slot, ok := groupIndex[c.GroupID]
		if !ok {
			continue
		}
		g := &cats[slot[0]].Groups[slot[1]]
		g.Connections = append(g.Connections, c)
	}
	return cats, rows.Err()
}

// Joined flattens the hierarchy into one row per connection.
func (r *ConnectionRepo) Joined() ([]core.JoinedConnection, error) {
	rows, err := r.db.Query(`SELECT ` + connectionColumns + `, cat.name, g.name
		FROM connections c
		JOIN connection_groups g ON g.id = c.group_id
		JOIN categories cat ON cat.id = g.category_id
		ORDER BY cat.name, g.name, c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var joined []core.JoinedConnection
	for rows.Next() {
		var j core.JoinedConnection
		c, err := scanConnection(rows, &j.Category, &j.Group)
		if err != nil {
			return nil, err
		}
		j.Connection = c
		joined = append(joined, j)
	}
	return joined, rows.Err()
}

func (r *ConnectionRepo) categories() ([]core.Category, error) {
	rows, err := r.db.Query(`SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *ConnectionRepo) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeOptions(opts map[string]string) (string, error) {
	if len(opts) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	return string(b), nil
}
