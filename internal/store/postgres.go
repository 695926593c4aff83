package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-photos/internal/domain"
)

const uniqueViolation = "23505"

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

const imageColumns = `id, account_id, filename, captured_at, aspect_ratio, metadata, created_at`

func scanImage(row pgx.Row) (*domain.Image, error) {
	var img domain.Image
	var metaJSON []byte
	if err := row.Scan(&img.ID, &img.AccountID, &img.Filename, &img.CapturedAt, &img.AspectRatio, &metaJSON, &img.CreatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &img.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &img, nil
}

func (p *Postgres) FindImageByFilename(ctx context.Context, accountID uuid.UUID, filename string) (*domain.Image, error) {
	img, err := scanImage(p.pool.QueryRow(ctx, `
		SELECT `+imageColumns+` FROM images WHERE account_id = $1 AND filename = $2
	`, accountID, filename))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find image by filename: %w", err)
	}
	return img, nil
}

func (p *Postgres) ImageExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM images WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check image exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) GetImage(ctx context.Context, accountID, id uuid.UUID) (*domain.Image, error) {
	img, err := scanImage(p.pool.QueryRow(ctx, `
		SELECT `+imageColumns+` FROM images WHERE id = $1 AND account_id = $2
	`, id, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (p *Postgres) ListImages(ctx context.Context, accountID uuid.UUID) ([]domain.Image, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+imageColumns+` FROM images WHERE account_id = $1 ORDER BY captured_at DESC, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

func (p *Postgres) ListVariants(ctx context.Context, imageID uuid.UUID) ([]domain.Variant, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, image_id, object_key, width, height, compression_quality, tier, version, created_at
		FROM variants WHERE image_id = $1 ORDER BY tier, version
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.Variant
	for rows.Next() {
		var v domain.Variant
		var tier string
		if err := rows.Scan(&v.ID, &v.ImageID, &v.ObjectKey, &v.Width, &v.Height, &v.CompressionQuality, &tier, &v.Version, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		v.Tier = domain.Tier(tier)
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (p *Postgres) ImagesMissingTiers(ctx context.Context, tiers []domain.Tier, limit int) ([]domain.Job, error) {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT i.id, i.account_id, o.object_key
		FROM images i
		JOIN variants o ON o.image_id = i.id AND o.tier = 'original'
		WHERE (
			SELECT COUNT(DISTINCT d.tier) FROM variants d
			WHERE d.image_id = i.id AND d.tier = ANY($1)
		) < cardinality($1::text[])
		ORDER BY i.id
		LIMIT $2
	`, names, limit)
	if err != nil {
		return nil, fmt.Errorf("query images missing tiers: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var job domain.Job
		if err := rows.Scan(&job.ImageID, &job.AccountID, &job.OriginalObjectKey); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (p *Postgres) ReferencedKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	referenced := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return referenced, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT object_key FROM variants WHERE object_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("query referenced keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		referenced[key] = true
	}
	return referenced, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertImage(ctx context.Context, img *domain.Image) error {
	meta := img.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO images (id, account_id, filename, captured_at, aspect_ratio, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, img.ID, img.AccountID, img.Filename, img.CapturedAt, img.AspectRatio, metaJSON).Scan(&img.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert image %s: %w", img.Filename, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (t *pgTx) InsertVariant(ctx context.Context, v *domain.Variant) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO variants (id, image_id, object_key, width, height, compression_quality, tier, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, v.ID, v.ImageID, v.ObjectKey, v.Width, v.Height, v.CompressionQuality, string(v.Tier), v.Version).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s variant: %w", v.Tier, err)
	}
	return nil
}

func (t *pgTx) NextVersion(ctx context.Context, imageID uuid.UUID, tier domain.Tier) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM variants WHERE image_id = $1 AND tier = $2
	`, imageID, string(tier)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next %s version: %w", tier, err)
	}
	return next, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return fmt.Errorf("rollback: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
