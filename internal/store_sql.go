package internal

// schemaSQL creates the relational tables backing Store, kept as a plain
// string constant rather than a separate migration tool -- this engine has
// no multi-version migration story yet, so idempotent
// CREATE TABLE IF NOT EXISTS suffices.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS books (
	key          bytea PRIMARY KEY,
	slug         text UNIQUE NOT NULL,
	title        text NOT NULL,
	subtitle     text,
	description  text,
	isbn10       text,
	isbn13       text,
	publisher    text,
	published_at text,
	language     text,
	page_count   bigint,
	rating_sum   bigint,
	rating_count bigint,
	genres       text[],
	cover_url          text,
	cover_fallback_url text,
	cover_source       text,
	cover_width        int,
	cover_height       int,
	cover_high_res     boolean,
	cover_object_key   text,
	cover_final        boolean,
	cover_provenance   jsonb,
	dim_height_cm    double precision,
	dim_width_cm     double precision,
	dim_thickness_cm double precision,
	qualifiers   jsonb,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS books_isbn13_idx ON books (isbn13) WHERE isbn13 IS NOT NULL;
CREATE INDEX IF NOT EXISTS books_isbn10_idx ON books (isbn10) WHERE isbn10 IS NOT NULL;

CREATE TABLE IF NOT EXISTS external_ids (
	book_key     bytea NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	scheme       text NOT NULL,
	value        text NOT NULL,
	isbn10_echo  text,
	isbn13_echo  text,
	rating       double precision,
	rating_count bigint,
	price        double precision,
	currency     text,
	viewability  text,
	updated_at   timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (scheme, value)
);
CREATE INDEX IF NOT EXISTS external_ids_book_idx ON external_ids (book_key);
CREATE INDEX IF NOT EXISTS external_ids_isbn13_echo_idx ON external_ids (isbn13_echo) WHERE isbn13_echo IS NOT NULL;

CREATE TABLE IF NOT EXISTS raw_payloads (
	book_key   bytea NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	source     text NOT NULL,
	fetched_at timestamptz NOT NULL,
	etag       text,
	body       bytea NOT NULL,
	PRIMARY KEY (book_key, source)
);

CREATE TABLE IF NOT EXISTS cover_links (
	book_key   bytea NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	image_type text NOT NULL,
	url        text NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (book_key, image_type)
);

CREATE TABLE IF NOT EXISTS authors (
	key          bytea PRIMARY KEY,
	display_name text UNIQUE NOT NULL,
	normal_name  text NOT NULL,
	description  text,
	image_url    text,
	updated_at   timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS authors_normal_name_idx ON authors (normal_name);

CREATE TABLE IF NOT EXISTS book_authors (
	book_key   bytea NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	author_key bytea NOT NULL REFERENCES authors(key) ON DELETE CASCADE,
	position   int NOT NULL,
	PRIMARY KEY (book_key, author_key)
);

CREATE TABLE IF NOT EXISTS collections (
	key             bytea PRIMARY KEY,
	type            text NOT NULL,
	source          text NOT NULL,
	normalized_name text NOT NULL,
	title           text NOT NULL,
	description     text,
	short_id        text UNIQUE NOT NULL,
	updated_at      timestamptz NOT NULL DEFAULT now(),
	UNIQUE (type, source, normalized_name)
);
CREATE UNIQUE INDEX IF NOT EXISTS collections_category_name_idx
	ON collections (normalized_name) WHERE type = 'CATEGORY';

CREATE TABLE IF NOT EXISTS book_collections (
	book_key       bytea NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	collection_key bytea NOT NULL REFERENCES collections(key) ON DELETE CASCADE,
	rank           int,
	weeks_on_list  int,
	PRIMARY KEY (book_key, collection_key)
);

CREATE TABLE IF NOT EXISTS recommendations (
	book_key        bytea NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	recommended_key bytea NOT NULL,
	score           double precision NOT NULL,
	reason          text,
	updated_at      timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (book_key, recommended_key)
);

CREATE MATERIALIZED VIEW IF NOT EXISTS book_search_view AS
	SELECT key, to_tsvector('english', title || ' ' || coalesce(description, '')) AS doc
	FROM books;
CREATE UNIQUE INDEX IF NOT EXISTS book_search_view_key_idx ON book_search_view (key);
CREATE INDEX IF NOT EXISTS book_search_view_doc_idx ON book_search_view USING gin (doc);

CREATE OR REPLACE FUNCTION refresh_book_search_view() RETURNS void AS $$
BEGIN
	REFRESH MATERIALIZED VIEW CONCURRENTLY book_search_view;
END;
$$ LANGUAGE plpgsql;
`
