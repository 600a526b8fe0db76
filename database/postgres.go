package database

import (
	"context"
	"errors"
	"fmt"

	"channel-sync-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const videoColumns = `id, url, added, title, author, description, duration, thumbnail, loaded`

// PostgresStore implements Store on a channels/videos table pair.
// The videos(channel_name, url) unique key backs insert-if-absent and the
// channels.selected_id foreign key clears the selection when its video is deleted.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store from a DSN. Migrations must already be applied.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, models.Unavailable("pgxpool.New", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, models.Unavailable("ping", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) ListChannels(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT name FROM channels ORDER BY name`)
	if err != nil {
		return nil, models.Unavailable("ListChannels", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, models.Unavailable("ListChannels", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (p *PostgresStore) CreateChannel(ctx context.Context, name string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO channels (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return false, models.Unavailable("CreateChannel", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) GetChannel(ctx context.Context, name string) (*models.Channel, error) {
	ch := &models.Channel{Name: name}
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(selected_id, '') FROM channels WHERE name = $1`, name,
	).Scan(&ch.Selected)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.Unavailable("GetChannel", err)
	}
	ch.Videos, err = p.queryVideos(ctx, name)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (p *PostgresStore) ListVideos(ctx context.Context, channel string) ([]models.Video, error) {
	return p.queryVideos(ctx, channel)
}

func (p *PostgresStore) queryVideos(ctx context.Context, channel string) ([]models.Video, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE channel_name = $1 ORDER BY added, id`, channel)
	if err != nil {
		return nil, models.Unavailable("ListVideos", err)
	}
	videos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Video, error) {
		return scanVideo(row)
	})
	if err != nil {
		return nil, models.Unavailable("ListVideos", err)
	}
	if videos == nil {
		videos = []models.Video{}
	}
	return videos, nil
}

func (p *PostgresStore) InsertVideoIfAbsent(ctx context.Context, channel string, v models.Video) (models.Video, bool, error) {
	if _, err := p.CreateChannel(ctx, channel); err != nil {
		return models.Video{}, false, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	row := p.pool.QueryRow(ctx,
		`INSERT INTO videos (channel_name, `+videoColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (channel_name, url) DO NOTHING
		 RETURNING `+videoColumns,
		channel, v.ID, v.URL, v.Added, v.Title, v.Author, v.Description, v.Duration, v.Thumbnail, v.Loaded,
	)
	stored, err := scanVideo(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, false, models.Unavailable("InsertVideoIfAbsent", err)
	}

	row = p.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE channel_name = $1 AND url = $2`, channel, v.URL)
	stored, err = scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, false, fmt.Errorf("%w: video with url %q", models.ErrNotFound, v.URL)
	}
	if err != nil {
		return models.Video{}, false, models.Unavailable("InsertVideoIfAbsent", err)
	}
	return stored, false, nil
}

func (p *PostgresStore) UpdateVideo(ctx context.Context, channel, id string, patch models.VideoPatch) (models.Video, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE videos SET
			url         = COALESCE($3, url),
			title       = COALESCE($4, title),
			author      = COALESCE($5, author),
			description = COALESCE($6, description),
			duration    = COALESCE($7, duration),
			thumbnail   = COALESCE($8, thumbnail),
			loaded      = COALESCE($9, loaded)
		 WHERE channel_name = $1 AND id = $2
		 RETURNING `+videoColumns,
		channel, id, patch.URL, patch.Title, patch.Author, patch.Description, patch.Duration, patch.Thumbnail, patch.Loaded,
	)
	v, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.Video{}, models.ErrDuplicateURL
	}
	if err != nil {
		return models.Video{}, models.Unavailable("UpdateVideo", err)
	}
	return v, nil
}

func (p *PostgresStore) RemoveVideo(ctx context.Context, channel, id string) (*models.Video, error) {
	row := p.pool.QueryRow(ctx,
		`DELETE FROM videos WHERE channel_name = $1 AND id = $2 RETURNING `+videoColumns, channel, id)
	v, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Unavailable("RemoveVideo", err)
	}
	return &v, nil
}

func (p *PostgresStore) SelectVideo(ctx context.Context, channel, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE channels SET selected_id = $2
		 WHERE name = $1
		   AND EXISTS (SELECT 1 FROM videos WHERE channel_name = $1 AND id = $2)`,
		channel, id)
	if err != nil {
		return models.Unavailable("SelectVideo", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ClearSelection(ctx context.Context, channel string) error {
	_, err := p.pool.Exec(ctx, `UPDATE channels SET selected_id = NULL WHERE name = $1`, channel)
	return models.Unavailable("ClearSelection", err)
}

func (p *PostgresStore) Selection(ctx context.Context, channel string) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(selected_id, '') FROM channels WHERE name = $1`, channel).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", models.Unavailable("Selection", err)
	}
	return id, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return models.Unavailable("ping", p.pool.Ping(ctx))
}

func (p *PostgresStore) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.URL, &v.Added, &v.Title, &v.Author, &v.Description, &v.Duration, &v.Thumbnail, &v.Loaded)
	return v, err
}
