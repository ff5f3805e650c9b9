package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"querydeck/internal/core"
)

var demoStatements = []string{
	`CREATE TABLE IF NOT EXISTS artists (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`,
	`CREATE TABLE IF NOT EXISTS albums (id INTEGER PRIMARY KEY, artist_id INTEGER REFERENCES artists(id), title TEXT NOT NULL, released INTEGER);`,
	`INSERT OR IGNORE INTO artists (id, name) VALUES (1, 'Nina Simone'), (2, 'Miles Davis'), (3, 'Alice Coltrane');`,
	`INSERT OR IGNORE INTO albums (id, artist_id, title, released) VALUES
		(1, 1, 'Pastel Blues', 1965),
		(2, 2, 'Kind of Blue', 1959),
		(3, 2, 'In a Silent Way', 1969),
		(4, 3, 'Journey in Satchidananda', 1971);`,
	`CREATE VIEW IF NOT EXISTS album_list AS SELECT ar.name AS artist, al.title, al.released FROM albums al JOIN artists ar ON ar.id = al.artist_id;`,
}

func seedCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a demo SQLite database and save it as Local -> Samples -> demo",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := filepath.Abs(filepath.Join(a.cfg.DataDir, "demo.db"))
			if err != nil {
				return err
			}

			// Find the demo connection, if it was already seeded
			joined, err := a.conns.Joined()
			if err != nil {
				return err
			}
			var conn *core.ConnectionDescriptor
			for _, j := range joined {
				if j.Category == "Local" && j.Group == "Samples" && j.Connection.Name == "demo" {
					c := j.Connection
					conn = &c
					break
				}
			}
			if conn == nil {
				groupID, err := ensureGroup(a.conns, "Local", "Samples")
				if err != nil {
					return err
				}
				conn = &core.ConnectionDescriptor{GroupID: groupID, Name: "demo", Driver: "sqlite", Path: path}
				if err := a.conns.Create(conn); err != nil {
					return fmt.Errorf("failed to save demo connection: %w", err)
				}
			}

			for _, stmt := range demoStatements {
				if _, err := a.exec.Execute(cmd.Context(), *conn, stmt); err != nil {
					return fmt.Errorf("failed to create demo data: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Connection ID: %d\n", conn.ID)
			fmt.Fprintln(cmd.OutOrStdout(), "Demo data created successfully.")
			return nil
		},
	}
}
