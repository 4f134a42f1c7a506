package database

import (
	"context"
)

// User represents a user in the database
type User struct {
	ID    int    `db:"id"`
	Name  string `db:"name"`
	Email string `db:"email"`
}

// CreateTable creates the users table if it doesn't exist
func (db *DB) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100),
			email VARCHAR(100)
		)
	`
	_, err := db.ExecContext(ctx, query)
	return err
}

// InsertUsers inserts sample users in one execute_many span.
func (db *DB) InsertUsers(ctx context.Context) error {
	_, err := db.ExecManyContext(ctx,
		"INSERT INTO users (name, email) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		[][]interface{}{
			{"Alice", "alice@example.com"},
			{"Bob", "bob@example.com"},
			{"Charlie", "charlie@example.com"},
		},
	)
	return err
}

// QueryUsers loads users via SelectContext; the span reports how many
// rows came back.
func (db *DB) QueryUsers(ctx context.Context) error {
	var users []User
	err := db.SelectContext(ctx, &users, "SELECT id, name, email FROM users LIMIT 10")
	if err != nil {
		return err
	}
	db.logger.Info().Int("count", len(users)).Msg("queried users")
	return nil
}

// GetUser loads one user, tolerating absence via GetOptionalContext.
func (db *DB) GetUser(ctx context.Context, name string) (*User, error) {
	var user User
	found, err := db.GetOptionalContext(ctx, &user,
		"SELECT id, name, email FROM users WHERE name = $1", name)
	if err != nil {
		return nil, err
	}
	if !found {
		db.logger.Info().Str("name", name).Msg("user not found")
		return nil, nil
	}
	db.logger.Info().Str("name", user.Name).Str("email", user.Email).Msg("got user")
	return &user, nil
}

// DescribeUsers reports the result-set shape of the users query.
func (db *DB) DescribeUsers(ctx context.Context) error {
	desc, err := db.DescribeContext(ctx, "SELECT id, name, email FROM users LIMIT 1")
	if err != nil {
		return err
	}
	db.logger.Info().Strs("columns", desc.Columns).Msg("described users query")
	return nil
}

// InsertWithTransaction demonstrates the instrumented transaction
// lifecycle: begin, execute and get inside the transaction, commit.
func (db *DB) InsertWithTransaction(ctx context.Context) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (name, email) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		"Transaction User",
		"tx@example.com",
	)
	if err != nil {
		return err
	}

	var user User
	err = tx.GetContext(
		ctx,
		&user,
		"SELECT id, name, email FROM users WHERE email = $1",
		"tx@example.com",
	)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}
	db.logger.Info().Str("name", user.Name).Msg("transaction committed")
	return nil
}

// PingSingleConnection checks out one connection, pings it, and returns
// it to the pool, spanning the acquire and the ping.
func (db *DB) PingSingleConnection(ctx context.Context) error {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.PingContext(ctx)
}
