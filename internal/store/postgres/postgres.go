package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db                 *sql.DB
	maxEventsPerUser   int
	anonymousRetention time.Duration
}

func New(ctx context.Context, databaseURL string, maxEventsPerUser int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if maxEventsPerUser < 1 {
		maxEventsPerUser = store.DefaultMaxEventsPerUser
	}
	return &Store{
		db:                 db,
		maxEventsPerUser:   maxEventsPerUser,
		anonymousRetention: store.DefaultAnonymousRetention,
	}, nil
}

// SetAnonymousRetention changes how long anonymous events are kept,
// measured back from the event being appended. Call it before serving.
func (s *Store) SetAnonymousRetention(window time.Duration) {
	if window <= 0 {
		window = store.DefaultAnonymousRetention
	}
	s.anonymousRetention = window
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

const productColumns = `id, name, category_id, brand_id, material, price_cents, featured, vip_exclusive, active, created_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.BrandID, &p.Material, &p.PriceCents, &p.Featured, &p.VIPExclusive, &p.Active, &p.CreatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE active = true`
	args := make([]any, 0, 1)
	if category := strings.TrimSpace(filter.CategoryID); category != "" {
		query += ` AND category_id = $1`
		args = append(args, category)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) AppendEvent(ctx context.Context, event domain.BehaviorEvent) error {
	if !event.Action.IsValid() {
		return store.ErrInvalidArgument
	}
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO behavior_events (id, user_id, product_id, session_id, action, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
	`,
		event.ID,
		nullIfEmpty(event.UserID),
		nullIfEmpty(event.ProductID),
		nullIfEmpty(event.SessionID),
		string(event.Action),
		string(metaJSON),
		event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidArgument
		}
		return err
	}

	if event.UserID == "" {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM behavior_events
			WHERE user_id IS NULL AND created_at < $1
		`, event.CreatedAt.Add(-s.anonymousRetention))
	} else {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM behavior_events
			WHERE user_id = $1
			  AND seq <= (
				SELECT seq FROM behavior_events
				WHERE user_id = $1
				ORDER BY seq DESC
				OFFSET $2 LIMIT 1
			  )
		`, event.UserID, s.maxEventsPerUser)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

const eventColumns = `id, user_id, product_id, session_id, action, metadata, created_at`

func scanEvents(rows *sql.Rows) ([]domain.BehaviorEvent, error) {
	events := make([]domain.BehaviorEvent, 0, 64)
	for rows.Next() {
		var (
			event     domain.BehaviorEvent
			userID    sql.NullString
			productID sql.NullString
			sessionID sql.NullString
			action    string
			metadata  []byte
		)
		if err := rows.Scan(&event.ID, &userID, &productID, &sessionID, &action, &metadata, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.UserID = userID.String
		event.ProductID = productID.String
		event.SessionID = sessionID.String
		event.Action = domain.BehaviorAction(action)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for event %s: %w", event.ID, err)
			}
			if len(event.Metadata) == 0 {
				event.Metadata = nil
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListUserEvents(ctx context.Context, userID string, action domain.BehaviorAction, limit int) ([]domain.BehaviorEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM behavior_events WHERE user_id IS NOT DISTINCT FROM $1`
	args := []any{nullIfEmpty(userID)}
	if action != "" {
		args = append(args, string(action))
		query += fmt.Sprintf(` AND action = $%d`, len(args))
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListEventsSince(ctx context.Context, since time.Time, actions []domain.BehaviorAction) ([]domain.BehaviorEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM behavior_events WHERE created_at >= $1`
	args := []any{since}
	if len(actions) > 0 {
		names := make([]string, 0, len(actions))
		for _, action := range actions {
			names = append(names, string(action))
		}
		args = append(args, names)
		query += ` AND action = ANY($2)`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*domain.UserPreferenceProfile, error) {
	var (
		profile    domain.UserPreferenceProfile
		categories []byte
		brands     []byte
		materials  []byte
		minPrice   sql.NullInt64
		maxPrice   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, preferred_categories, preferred_brands, preferred_materials,
			price_range_min_cents, price_range_max_cents, vip_products_only, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`, userID).Scan(
		&profile.ID, &profile.UserID, &categories, &brands, &materials,
		&minPrice, &maxPrice, &profile.VIPProductsOnly, &profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	for _, field := range []struct {
		raw  []byte
		dest *[]string
	}{
		{categories, &profile.PreferredCategories},
		{brands, &profile.PreferredBrands},
		{materials, &profile.PreferredMaterials},
	} {
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return nil, fmt.Errorf("decode preferences for %s: %w", userID, err)
		}
	}
	if minPrice.Valid {
		v := minPrice.Int64
		profile.PriceRangeMinCents = &v
	}
	if maxPrice.Valid {
		v := maxPrice.Int64
		profile.PriceRangeMaxCents = &v
	}
	return &profile, nil
}

func (s *Store) SavePreferences(ctx context.Context, profile domain.UserPreferenceProfile) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return store.ErrInvalidArgument
	}
	if profile.ID == "" {
		profile.ID = xid.New("pref")
	}

	encoded := make([]string, 0, 3)
	for _, set := range [][]string{profile.PreferredCategories, profile.PreferredBrands, profile.PreferredMaterials} {
		if set == nil {
			set = []string{}
		}
		raw, err := json.Marshal(set)
		if err != nil {
			return err
		}
		encoded = append(encoded, string(raw))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (
			id, user_id, preferred_categories, preferred_brands, preferred_materials,
			price_range_min_cents, price_range_max_cents, vip_products_only, updated_at
		)
		VALUES ($1,$2,$3::jsonb,$4::jsonb,$5::jsonb,$6,$7,$8,$9)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_categories = EXCLUDED.preferred_categories,
			preferred_brands = EXCLUDED.preferred_brands,
			preferred_materials = EXCLUDED.preferred_materials,
			price_range_min_cents = EXCLUDED.price_range_min_cents,
			price_range_max_cents = EXCLUDED.price_range_max_cents,
			vip_products_only = EXCLUDED.vip_products_only,
			updated_at = EXCLUDED.updated_at
	`,
		profile.ID,
		profile.UserID,
		encoded[0],
		encoded[1],
		encoded[2],
		nullInt64(profile.PriceRangeMinCents),
		nullInt64(profile.PriceRangeMaxCents),
		profile.VIPProductsOnly,
		profile.UpdatedAt,
	)
	return err
}

func (s *Store) ListSimilarities(ctx context.Context, productID string, similarityType string) ([]domain.ProductSimilarity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id_a, product_id_b, similarity_type, similarity_score, created_at
		FROM product_similarities
		WHERE (product_id_a = $1 OR product_id_b = $1)
		  AND ($2 = '' OR similarity_type = $2)
		ORDER BY similarity_type, product_id_a, product_id_b
	`, productID, similarityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make([]domain.ProductSimilarity, 0, 32)
	for rows.Next() {
		var edge domain.ProductSimilarity
		if err := rows.Scan(&edge.ID, &edge.ProductIDA, &edge.ProductIDB, &edge.SimilarityType, &edge.SimilarityScore, &edge.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return edges, nil
}

func (s *Store) UpsertSimilarities(ctx context.Context, edges []domain.ProductSimilarity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertEdges(ctx, tx, edges); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ReplaceSimilarities(ctx context.Context, similarityType string, edges []domain.ProductSimilarity) error {
	if similarityType == "" {
		return store.ErrInvalidArgument
	}
	for _, edge := range edges {
		if edge.SimilarityType != similarityType {
			return store.ErrInvalidArgument
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_similarities WHERE similarity_type = $1`, similarityType); err != nil {
		return err
	}
	if err := upsertEdges(ctx, tx, edges); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertEdges(ctx context.Context, tx *sql.Tx, edges []domain.ProductSimilarity) error {
	now := time.Now().UTC()
	for _, edge := range edges {
		if edge.ProductIDA == "" || edge.ProductIDB == "" || edge.ProductIDA == edge.ProductIDB || edge.SimilarityType == "" {
			return store.ErrInvalidArgument
		}
		a, b := store.NormalizePair(edge.ProductIDA, edge.ProductIDB)
		createdAt := edge.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_similarities (id, product_id_a, product_id_b, similarity_type, similarity_score, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (product_id_a, product_id_b, similarity_type)
			DO UPDATE SET similarity_score = EXCLUDED.similarity_score, created_at = EXCLUDED.created_at
		`, xid.New("sim"), a, b, edge.SimilarityType, edge.SimilarityScore, createdAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
