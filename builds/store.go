package builds

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

const createRunsTable = `CREATE TABLE IF NOT EXISTS "runs" (
	"id"            INTEGER NOT NULL UNIQUE,
	"project"       TEXT NOT NULL,
	"repo"          TEXT NOT NULL,
	"workflow_id"   INTEGER NOT NULL,
	"workflow_name" TEXT,
	"seconds_used"  INTEGER NOT NULL,
	"run_start"     INTEGER NOT NULL,
	"run_finish"    INTEGER NOT NULL,
	"jobs"          TEXT,
	PRIMARY KEY("id" AUTOINCREMENT)
);`

// Store persists workflow runs in a local sqlite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed initializes) the run database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "builds", "OpenStore", "open database "+path)
	}
	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "builds", "OpenStore", "create runs table")
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRun appends one completed run. The job list is stored as JSON text.
func (s *Store) InsertRun(ctx context.Context, run Run) error {
	jobs, err := json.Marshal(run.Jobs)
	if err != nil {
		return errors.WrapInvalid(err, "builds", "InsertRun", "encode jobs")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (project, repo, workflow_id, workflow_name, seconds_used, run_start, run_finish, jobs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Project, run.Repo, run.WorkflowID, run.WorkflowName,
		run.SecondsUsed, run.RunStart, run.RunFinish, string(jobs))
	if err != nil {
		return errors.WrapTransient(err, "builds", "InsertRun", "insert run for "+run.Repo)
	}
	return nil
}

// RunsSince returns every run that started or finished at or after the given
// epoch, newest rows last. Rows with unparseable job data get an empty job
// list rather than failing the whole read.
func (s *Store) RunsSince(ctx context.Context, epoch float64) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project, repo, workflow_id, workflow_name, seconds_used, run_start, run_finish, jobs FROM runs WHERE run_start >= ? OR run_finish >= ?",
		epoch, epoch)
	if err != nil {
		return nil, errors.WrapTransient(err, "builds", "RunsSince", "query runs")
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		var run Run
		var jobs sql.NullString
		if err := rows.Scan(&run.ID, &run.Project, &run.Repo, &run.WorkflowID,
			&run.WorkflowName, &run.SecondsUsed, &run.RunStart, &run.RunFinish, &jobs); err != nil {
			return nil, errors.WrapInvalid(err, "builds", "RunsSince", "scan run row")
		}
		if jobs.Valid && jobs.String != "" {
			if err := json.Unmarshal([]byte(jobs.String), &run.Jobs); err != nil {
				run.Jobs = nil
			}
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "builds", "RunsSince", "iterate runs")
	}
	return result, nil
}
