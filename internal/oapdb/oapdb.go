// Package oapdb records decode runs and per-record statistics in a ClickHouse database.
package oapdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Connection is a (possibly absent) connection to the ClickHouse server.
// Every method is a no-op when the connection is not open.
type Connection struct {
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	runmsg        chan *RunMessage
	statsmsg      chan *RecordStatsMessage
	filemsg       chan *FileMessage
	sync.WaitGroup
}

const databaseName = "oap" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// IsConnected reports whether the connection is usable.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// Err returns the error that closed the connection, if any.
func (db *Connection) Err() error {
	if db == nil {
		return nil
	}
	return db.err
}

// PingServer connects, prints the server version and disconnects.
func PingServer() error {
	db := createDBConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %v", db.err)
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}

// StartDBConnection opens a connection, logs the activity entry and starts the
// goroutine that serializes inserts. Closing abort ends it; Wait blocks until then.
func StartDBConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	conn := createDBConnection()
	conn.activityEntry = activity
	conn.logActivity()
	if conn.IsConnected() {
		conn.Add(1)
		go conn.handleConnection(abort)
	}
	return conn
}

// DummyDBConnection returns a connection that records nothing.
func DummyDBConnection() *Connection {
	return &Connection{}
}

func createDBConnection() *Connection {
	db := &Connection{}
	dbUser := os.Getenv("OAP_DB_USER")
	dbPass := os.Getenv("OAP_DB_PASSWORD")
	addr := os.Getenv("OAP_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: dbUser,
		Password: dbPass,
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "oap", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{addr},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	ctx := context.Background()
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn

	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.runmsg = make(chan *RunMessage)
	db.statsmsg = make(chan *RecordStatsMessage, 64)
	db.filemsg = make(chan *FileMessage)
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() || db.activityEntry == nil {
		return
	}
	ctx := context.Background()
	const nowait = false
	ae := db.activityEntry
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO oapactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, ae.CPUs, ae.Start.Format(timeFormat), ae.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into oapactivity ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.runmsg:
			db.handleRunMessage(rmsg)
		case smsg := <-db.statsmsg:
			db.handleStatsMessage(smsg)
		case fmsg := <-db.filemsg:
			db.handleFileMessage(fmsg)
		}
	}
}

// Disconnect stamps the activity end time and closes the connection.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		if db.activityEntry != nil {
			db.activityEntry.End = time.Now()
			db.logActivity()
		}
		db.conn.Close()
	}
}

// RecordRun stores a RunMessage. It blocks until the insert goroutine accepts
// the message, so the run row exists before any stats rows that refer to it.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.runmsg <- msg
}

// FinishRun stamps the end time on a run and stores it again.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

// RecordStats queues one record's statistics.
func (db *Connection) RecordStats(msg *RecordStatsMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.statsmsg <- msg }()
}

// RecordFile queues an output file entry.
func (db *Connection) RecordFile(msg *FileMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.filemsg <- msg }()
}

func (db *Connection) handleRunMessage(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	activityID := ""
	if db.activityEntry != nil {
		activityID = db.activityEntry.ID
	}
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO decoderuns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, activityID, m.InputFile, m.Directory, m.Probes, m.Policy,
		m.Records, m.Particles, m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into decoderuns ", err)
		db.err = err
	}
}

func (db *Connection) handleStatsMessage(m *RecordStatsMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO recordstats VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.RunID, m.ProbeID, m.Channel, m.RecordTime.Format(timeFormat),
		m.Particles, m.Accepted, m.TotalArea, m.TBarElapsed,
		m.MinBar, m.MaxBar, m.MeanBar, m.StuckBit, m.ChecksumOK,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into recordstats ", err)
		db.err = err
	}
}

func (db *Connection) handleFileMessage(m *FileMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO files VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.RunID, m.Filename, m.Filetype, m.Start.Format(timeFormat), m.End.Format(timeFormat),
		m.Records, m.Size, m.SHA256,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into files ", err)
		db.err = err
	}
}
