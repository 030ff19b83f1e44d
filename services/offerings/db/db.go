package db

import (
	"context"
	"database/sql"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type CourseOffering struct {
	CourseCode  string
	Sections    string
	LastUpdated int64
}

const upsertCourseOffering = `
INSERT INTO course_offerings (course_code, sections, last_updated)
VALUES (?, ?, ?)
ON CONFLICT (course_code)
DO UPDATE SET sections = excluded.sections, last_updated = excluded.last_updated
`

type UpsertCourseOfferingParams struct {
	CourseCode  string
	Sections    string
	LastUpdated int64
}

func (q *Queries) UpsertCourseOffering(ctx context.Context, arg UpsertCourseOfferingParams) error {
	_, err := q.db.ExecContext(ctx, upsertCourseOffering, arg.CourseCode, arg.Sections, arg.LastUpdated)
	return err
}

const getCourseOffering = `
SELECT course_code, sections, last_updated FROM course_offerings
WHERE course_code = ?
`

func (q *Queries) GetCourseOffering(ctx context.Context, courseCode string) (CourseOffering, error) {
	var out CourseOffering
	err := q.db.QueryRowContext(ctx, getCourseOffering, courseCode).
		Scan(&out.CourseCode, &out.Sections, &out.LastUpdated)
	return out, err
}
