/*
	Copyright (c) 2015-2016 Christopher Young
	Distributable under the terms of The "BSD New" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	datalog.go: Log magnetometer samples to an sqlite database as they are read.

*/

// Package datalog stores calibrated magnetometer samples in sqlite.
package datalog

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const tblCreate = `CREATE TABLE IF NOT EXISTS mag_samples (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	t_ns INTEGER NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	z REAL NOT NULL
)`

// Sample is one calibrated reading in µT.
type Sample struct {
	T       time.Time
	X, Y, Z float64
}

type Log struct {
	db *sql.DB
}

// Open opens or creates the sample database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; keep inserts from racing each other.
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(tblCreate); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func (l *Log) Insert(s Sample) error {
	_, err := l.db.Exec("INSERT INTO mag_samples (t_ns, x, y, z) VALUES(?, ?, ?, ?)",
		s.T.UnixNano(), s.X, s.Y, s.Z)
	return err
}

// Samples returns the last limit samples, oldest first. limit <= 0 returns all.
func (l *Log) Samples(limit int) ([]Sample, error) {
	q := "SELECT t_ns, x, y, z FROM (SELECT id, t_ns, x, y, z FROM mag_samples ORDER BY id DESC LIMIT ?) ORDER BY id ASC"
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.Query(q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var (
			ns int64
			s  Sample
		)
		if err = rows.Scan(&ns, &s.X, &s.Y, &s.Z); err != nil {
			return nil, err
		}
		s.T = time.Unix(0, ns)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (l *Log) Count() (n int64, err error) {
	err = l.db.QueryRow("SELECT COUNT(*) FROM mag_samples").Scan(&n)
	return
}

func (l *Log) Close() error {
	return l.db.Close()
}
