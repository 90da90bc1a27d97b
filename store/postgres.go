package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/msoto/lettings-pipeline/models"
)

const detailColumns = `property_id, property_url, location_id, location_name, title, description,
	image_url, date_added, rent_pcm, let_available_date, deposit, min_tenancy, let_type,
	furnish_type, property_type, bedrooms, bathrooms, size_sqm, epc_rating_url`

// Postgres is the lib/pq-backed Warehouse.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection, waits for the database to come up, and runs
// the schema migration.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pg := &Postgres{db: db}
	if err := pg.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pg, nil
}

func (pg *Postgres) migrate() error {
	_, err := pg.db.Exec(`
		CREATE TABLE IF NOT EXISTS raw_property_links (
			property_id   TEXT        NOT NULL,
			property_url  TEXT        NOT NULL,
			location_id   TEXT        NOT NULL,
			location_name TEXT        NOT NULL,
			title         TEXT        NOT NULL DEFAULT '',
			description   TEXT        NOT NULL DEFAULT '',
			image_url     TEXT        NOT NULL DEFAULT '',
			date_added    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_links_property_id ON raw_property_links(property_id, date_added DESC);

		CREATE TABLE IF NOT EXISTS intermediate_property_details (
			property_id        TEXT        PRIMARY KEY,
			property_url       TEXT        NOT NULL,
			location_id        TEXT        NOT NULL,
			location_name      TEXT        NOT NULL,
			title              TEXT        NOT NULL DEFAULT '',
			description        TEXT        NOT NULL DEFAULT '',
			image_url          TEXT        NOT NULL DEFAULT '',
			date_added         TIMESTAMPTZ NOT NULL,
			rent_pcm           INTEGER,
			let_available_date TEXT        NOT NULL DEFAULT '',
			deposit            INTEGER,
			min_tenancy        TEXT        NOT NULL DEFAULT '',
			let_type           TEXT        NOT NULL DEFAULT '',
			furnish_type       TEXT        NOT NULL DEFAULT '',
			property_type      TEXT        NOT NULL DEFAULT '',
			bedrooms           INTEGER,
			bathrooms          INTEGER,
			size_sqm           DOUBLE PRECISION,
			epc_rating_url     TEXT        NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS f_properties (
			property_id        TEXT        PRIMARY KEY,
			property_url       TEXT        NOT NULL,
			location_id        TEXT        NOT NULL,
			location_name      TEXT        NOT NULL,
			title              TEXT        NOT NULL DEFAULT '',
			description        TEXT        NOT NULL DEFAULT '',
			image_url          TEXT        NOT NULL DEFAULT '',
			date_added         TIMESTAMPTZ NOT NULL,
			rent_pcm           INTEGER,
			let_available_date TEXT        NOT NULL DEFAULT '',
			deposit            INTEGER,
			min_tenancy        TEXT        NOT NULL DEFAULT '',
			let_type           TEXT        NOT NULL DEFAULT '',
			furnish_type       TEXT        NOT NULL DEFAULT '',
			property_type      TEXT        NOT NULL DEFAULT '',
			bedrooms           INTEGER,
			bathrooms          INTEGER,
			size_sqm           DOUBLE PRECISION,
			epc_rating_url     TEXT        NOT NULL DEFAULT '',
			is_favourite       INTEGER     NOT NULL DEFAULT 0,
			is_hidden          INTEGER     NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_facts_rent    ON f_properties(rent_pcm);
		CREATE INDEX IF NOT EXISTS idx_facts_hidden  ON f_properties(is_hidden);
	`)
	return err
}

// AppendLinks inserts one row per discovered link. Earlier sightings of the
// same property_id stay in place; LatestLinks resolves which one wins.
func (pg *Postgres) AppendLinks(ctx context.Context, links []models.LinkRecord) error {
	if len(links) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(links); i += batchSize {
		end := i + batchSize
		if end > len(links) {
			end = len(links)
		}
		if err := pg.insertLinkBatch(ctx, links[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (pg *Postgres) insertLinkBatch(ctx context.Context, batch []models.LinkRecord) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*8)

	for idx, l := range batch {
		base := idx * 8
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		valueArgs = append(valueArgs,
			l.PropertyID, l.PropertyURL, l.LocationID, l.LocationName,
			l.Title, l.Description, l.ImageURL, l.DateAdded)
	}

	query := fmt.Sprintf(`
		INSERT INTO raw_property_links
			(property_id, property_url, location_id, location_name, title, description, image_url, date_added)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := pg.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert links: %w", err)
	}
	return nil
}

// LatestLinks returns the freshest sighting of every property_id.
func (pg *Postgres) LatestLinks(ctx context.Context) ([]models.LinkRecord, error) {
	rows, err := pg.db.QueryContext(ctx, `
		SELECT property_id, property_url, location_id, location_name, title, description, image_url, date_added
		  FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY property_id ORDER BY date_added DESC) AS n
			  FROM raw_property_links
		  ) t
		 WHERE n = 1
		 ORDER BY property_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest links: %w", err)
	}
	defer rows.Close()

	var links []models.LinkRecord
	for rows.Next() {
		var l models.LinkRecord
		if err := rows.Scan(&l.PropertyID, &l.PropertyURL, &l.LocationID, &l.LocationName,
			&l.Title, &l.Description, &l.ImageURL, &l.DateAdded); err != nil {
			return nil, fmt.Errorf("postgres: scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ReplaceDetails swaps the intermediate table contents in one transaction.
func (pg *Postgres) ReplaceDetails(ctx context.Context, details []models.PropertyDetail) error {
	tx, err := pg.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin replace details: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM intermediate_property_details"); err != nil {
		return fmt.Errorf("postgres: clear details: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO intermediate_property_details (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, detailColumns))
	if err != nil {
		return fmt.Errorf("postgres: prepare detail insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range details {
		if _, err := stmt.ExecContext(ctx, detailArgs(d)...); err != nil {
			return fmt.Errorf("postgres: insert detail %s: %w", d.PropertyID, err)
		}
	}
	return tx.Commit()
}

// Details returns the current intermediate batch.
func (pg *Postgres) Details(ctx context.Context) ([]models.PropertyDetail, error) {
	rows, err := pg.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM intermediate_property_details ORDER BY property_id", detailColumns))
	if err != nil {
		return nil, fmt.Errorf("postgres: read details: %w", err)
	}
	defer rows.Close()

	var details []models.PropertyDetail
	for rows.Next() {
		d, err := scanDetail(rows.Scan)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// PriorFlags reads the sticky user flags from the current fact table.
func (pg *Postgres) PriorFlags(ctx context.Context) (map[string]models.UserFlags, error) {
	rows, err := pg.db.QueryContext(ctx,
		"SELECT property_id, is_favourite, is_hidden FROM f_properties")
	if err != nil {
		return nil, fmt.Errorf("postgres: read prior flags: %w", err)
	}
	defer rows.Close()

	flags := make(map[string]models.UserFlags)
	for rows.Next() {
		var id string
		var f models.UserFlags
		if err := rows.Scan(&id, &f.IsFavourite, &f.IsHidden); err != nil {
			return nil, fmt.Errorf("postgres: scan flags: %w", err)
		}
		flags[id] = f
	}
	return flags, rows.Err()
}

// ReplaceFacts swaps the fact table in a single transaction so readers never
// observe a partially replaced table.
func (pg *Postgres) ReplaceFacts(ctx context.Context, facts []models.PropertyFact) error {
	tx, err := pg.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin replace facts: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM f_properties"); err != nil {
		return fmt.Errorf("postgres: clear facts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO f_properties (%s, is_favourite, is_hidden)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, detailColumns))
	if err != nil {
		return fmt.Errorf("postgres: prepare fact insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		args := append(detailArgs(f.PropertyDetail), f.IsFavourite, f.IsHidden)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("postgres: insert fact %s: %w", f.PropertyID, err)
		}
	}
	return tx.Commit()
}

// Facts returns the full fact table.
func (pg *Postgres) Facts(ctx context.Context) ([]models.PropertyFact, error) {
	rows, err := pg.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s, is_favourite, is_hidden FROM f_properties ORDER BY property_id", detailColumns))
	if err != nil {
		return nil, fmt.Errorf("postgres: read facts: %w", err)
	}
	defer rows.Close()

	var facts []models.PropertyFact
	for rows.Next() {
		var f models.PropertyFact
		var d models.PropertyDetail
		var rent, deposit, bedrooms, bathrooms sql.NullInt64
		var size sql.NullFloat64
		if err := rows.Scan(&d.PropertyID, &d.PropertyURL, &d.LocationID, &d.LocationName,
			&d.Title, &d.Description, &d.ImageURL, &d.DateAdded,
			&rent, &d.LetAvailableDate, &deposit, &d.MinTenancy, &d.LetType,
			&d.FurnishType, &d.PropertyType, &bedrooms, &bathrooms, &size, &d.EPCRatingURL,
			&f.IsFavourite, &f.IsHidden); err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		d.RentPCM = intPtr(rent)
		d.Deposit = intPtr(deposit)
		d.Bedrooms = intPtr(bedrooms)
		d.Bathrooms = intPtr(bathrooms)
		d.SizeSqm = floatPtr(size)
		f.PropertyDetail = d
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Close releases the connection pool.
func (pg *Postgres) Close() error {
	return pg.db.Close()
}

func detailArgs(d models.PropertyDetail) []interface{} {
	return []interface{}{
		d.PropertyID, d.PropertyURL, d.LocationID, d.LocationName,
		d.Title, d.Description, d.ImageURL, d.DateAdded,
		nullInt(d.RentPCM), d.LetAvailableDate, nullInt(d.Deposit), d.MinTenancy,
		d.LetType, d.FurnishType, d.PropertyType,
		nullInt(d.Bedrooms), nullInt(d.Bathrooms), nullFloat(d.SizeSqm), d.EPCRatingURL,
	}
}

func scanDetail(scan func(...interface{}) error) (models.PropertyDetail, error) {
	var d models.PropertyDetail
	var rent, deposit, bedrooms, bathrooms sql.NullInt64
	var size sql.NullFloat64
	if err := scan(&d.PropertyID, &d.PropertyURL, &d.LocationID, &d.LocationName,
		&d.Title, &d.Description, &d.ImageURL, &d.DateAdded,
		&rent, &d.LetAvailableDate, &deposit, &d.MinTenancy, &d.LetType,
		&d.FurnishType, &d.PropertyType, &bedrooms, &bathrooms, &size, &d.EPCRatingURL); err != nil {
		return d, fmt.Errorf("postgres: scan detail: %w", err)
	}
	d.RentPCM = intPtr(rent)
	d.Deposit = intPtr(deposit)
	d.Bedrooms = intPtr(bedrooms)
	d.Bathrooms = intPtr(bathrooms)
	d.SizeSqm = floatPtr(size)
	return d, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
