package docker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/ory/dockertest"
)

// NewPool returns a pool connected to the local docker daemon
func NewPool() (*dockertest.Pool, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, err
	}
	if err := pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to docker: %w", err)
	}
	return pool, nil
}

// StartPostgres starts a postgres container and waits until it accepts connections
func StartPostgres() (*dockertest.Resource, error) {
	pool, err := NewPool()
	if err != nil {
		return nil, err
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "14",
		Env:        []string{"POSTGRES_USER=postgres", "POSTGRES_PASSWORD=postgres", "POSTGRES_DB=postgres"},
	})
	if err != nil {
		return nil, err
	}

	hostAndPort := strings.Split(resource.GetHostPort("5432/tcp"), ":")
	dsn := fmt.Sprintf("host=%s port=%s user=postgres password=postgres dbname=postgres sslmode=disable", hostAndPort[0], hostAndPort[1])

	if err := pool.Retry(func() error {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	}); err != nil {
		resource.Close()
		return nil, err
	}

	return resource, nil
}

// StartRedis starts a redis container and waits until it answers pings
func StartRedis() (*dockertest.Resource, error) {
	pool, err := NewPool()
	if err != nil {
		return nil, err
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7",
	})
	if err != nil {
		return nil, err
	}

	if err := pool.Retry(func() error {
		client := redis.NewClient(&redis.Options{Addr: resource.GetHostPort("6379/tcp")})
		defer client.Close()
		return client.Ping(context.Background()).Err()
	}); err != nil {
		resource.Close()
		return nil, err
	}

	return resource, nil
}

// StartNATS starts a nats server container and waits until it accepts connections
func StartNATS() (*dockertest.Resource, error) {
	pool, err := NewPool()
	if err != nil {
		return nil, err
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "nats",
		Tag:        "2.9",
	})
	if err != nil {
		return nil, err
	}

	if err := pool.Retry(func() error {
		conn, err := nats.Connect("nats://" + resource.GetHostPort("4222/tcp"))
		if err != nil {
			return err
		}
		conn.Close()
		return nil
	}); err != nil {
		resource.Close()
		return nil, err
	}

	return resource, nil
}
