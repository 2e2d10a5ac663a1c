package postgres

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/config"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	_ "github.com/lib/pq"
)

const (
	createTableStmt = `CREATE TABLE IF NOT EXISTS telemetry(topic_id text, kind text, payload text, received_at text);`
	limit           = 100
)

type Client struct {
	sqlDB *sql.DB
}

func NewPostgresClient(databaseURL string) (Client, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return Client{}, err
	}
	return newClient(db)
}

func newClient(db *sql.DB) (Client, error) {
	postgresClient := Client{
		sqlDB: db,
	}
	_, err := db.Exec(createTableStmt)
	if err != nil {
		return postgresClient, fmt.Errorf("creating telemetry table: %w", err)
	}
	return postgresClient, nil
}

func (c *Client) WriteRecord(r telemetry.Record) error {
	stmt := "INSERT INTO telemetry(topic_id, kind, payload, received_at) VALUES($1, $2, $3, $4)"
	_, err := c.sqlDB.Exec(stmt, r.TopicID, string(r.Kind), string(r.Raw), r.ReceivedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetRecords returns one page of history for a topic, newest first, and the
// number of pages. Topic "all" pages across every topic.
func (c *Client) GetRecords(topicID string, page int) ([]config.HistoryRow, int, error) {
	if page < 1 {
		page = 1
	}
	offset := limit * (page - 1)

	var rows *sql.Rows
	var countRow *sql.Row
	var err error
	numPages := 0
	if strings.ToLower(topicID) == "all" {
		stmt := "SELECT topic_id, kind, payload, received_at FROM telemetry ORDER BY received_at DESC LIMIT $1 OFFSET $2"
		rows, err = c.sqlDB.Query(stmt, limit, offset)
		if err != nil {
			return nil, numPages, err
		}
		countRow = c.sqlDB.QueryRow("SELECT COUNT(*) FROM telemetry")
	} else {
		stmt := "SELECT topic_id, kind, payload, received_at FROM telemetry WHERE topic_id = $1 ORDER BY received_at DESC LIMIT $2 OFFSET $3"
		rows, err = c.sqlDB.Query(stmt, topicID, limit, offset)
		if err != nil {
			return nil, numPages, err
		}
		countRow = c.sqlDB.QueryRow("SELECT COUNT(*) FROM telemetry WHERE topic_id = $1", topicID)
	}
	defer rows.Close()

	history, err := scanRows(rows)
	if err != nil {
		return nil, numPages, err
	}

	var count int
	if err := countRow.Scan(&count); err != nil {
		return nil, numPages, err
	}
	numPages = int(math.Ceil(float64(count) / float64(limit)))

	return history, numPages, nil
}

func (c *Client) GetRowCount() (int, error) {
	var count int
	err := c.sqlDB.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&count)
	return count, err
}

func (c *Client) GetAllRows() ([]config.HistoryRow, error) {
	rows, err := c.sqlDB.Query("SELECT topic_id, kind, payload, received_at FROM telemetry ORDER BY received_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// GetTopicRows returns the full history of one topic, newest first.
func (c *Client) GetTopicRows(topicID string) ([]config.HistoryRow, error) {
	stmt := "SELECT topic_id, kind, payload, received_at FROM telemetry WHERE topic_id = $1 ORDER BY received_at DESC"
	rows, err := c.sqlDB.Query(stmt, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// GetRowsAboveMax returns the oldest rows beyond the newest max.
func (c *Client) GetRowsAboveMax(max int) ([]config.HistoryRow, error) {
	stmt := "SELECT topic_id, kind, payload, received_at FROM telemetry ORDER BY received_at DESC OFFSET $1"
	rows, err := c.sqlDB.Query(stmt, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (c *Client) DeleteRows(history []config.HistoryRow) (int64, error) {
	tx, err := c.sqlDB.Begin()
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, h := range history {
		res, err := tx.Exec("DELETE FROM telemetry WHERE topic_id = $1 AND received_at = $2", h.TopicID, h.ReceivedAt)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("deleting row for %s: %w", h.TopicID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func scanRows(rows *sql.Rows) ([]config.HistoryRow, error) {
	history := []config.HistoryRow{}
	for rows.Next() {
		var h config.HistoryRow
		if err := rows.Scan(&h.TopicID, &h.Kind, &h.Payload, &h.ReceivedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
