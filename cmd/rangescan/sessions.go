package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/rangescan/internal/capturedb"
	"github.com/banshee-data/rangescan/internal/fsutil"
	"github.com/banshee-data/rangescan/internal/scan"
)

// sessionDetail is one session plus the number of points stored for it.
type sessionDetail struct {
	capturedb.Session
	StoredPoints int64 `json:"stored_points"`
}

func newSessionsCmd(a *app) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "sessions [id]",
		Short: "List stored capture sessions, or show one, as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("db") {
				a.cfg.DBPath = &dbPath
			}
			path := a.cfg.GetDBPath()
			if path == "" {
				return scan.ConfigurationError("sessions", "no capture database, pass --db or set db_path")
			}
			// Opening migrates and would create an empty file.
			if !(fsutil.OSFileSystem{}).Exists(path) {
				return scan.ConfigurationError("sessions", "capture database %s does not exist", path)
			}

			db, err := capturedb.Open(path)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if len(args) == 0 {
				sessions, err := db.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				if sessions == nil {
					sessions = []capturedb.Session{}
				}
				return writeJSON(cmd.OutOrStdout(), sessions)
			}

			s, err := db.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := db.CountPoints(ctx, s.ID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sessionDetail{Session: s, StoredPoints: n})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "capture database written by record --db")
	cmd.Flags().IntVar(&limit, "limit", 20, "most recent sessions to list")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
