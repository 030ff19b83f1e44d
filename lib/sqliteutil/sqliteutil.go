package sqliteutil

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Options describes a sqlite-compatible database, either a local file
// or a remote libsql endpoint.
type Options struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// OpenDB opens the database described by opts and ensures the given
// schema exists. An empty Options opens an in-memory database, which
// is what the tests use.
func OpenDB(schema string, opts Options) (*sql.DB, error) {
	db, err := open(opts)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		db.Close()
		return nil, err
	}
	return db, nil
}

func open(opts Options) (*sql.DB, error) {
	if opts.Url != "" {
		values := url.Values{}
		if opts.AuthToken != "" {
			values.Add("authToken", opts.AuthToken)
		}
		return sql.Open("libsql", opts.Url+"?"+values.Encode())
	}

	file := opts.File
	if file == "" {
		file = ":memory:"
	}
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, err
	}
	if file != ":memory:" {
		// see this stackoverflow post for information on why the following
		// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
		db.SetMaxOpenConns(1)
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return db, nil
}
