package postgres

const schema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
	client_id          VARCHAR(255) PRIMARY KEY,
	client_secret_hash TEXT NOT NULL DEFAULT '',
	redirect_uris      TEXT[] NOT NULL DEFAULT '{}',
	allowed_scopes     TEXT[] NOT NULL DEFAULT '{}',
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id               VARCHAR(255) PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	given_name            TEXT NOT NULL DEFAULT '',
	family_name           TEXT NOT NULL DEFAULT '',
	picture               TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	email_verified        BOOLEAN NOT NULL DEFAULT FALSE,
	phone_number          TEXT NOT NULL DEFAULT '',
	phone_number_verified BOOLEAN NOT NULL DEFAULT FALSE,
	address               JSONB,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS authorization_codes (
	id                    VARCHAR(64) PRIMARY KEY,
	code                  VARCHAR(512) NOT NULL UNIQUE,
	client_id             VARCHAR(255) NOT NULL,
	user_id               VARCHAR(255) NOT NULL,
	redirect_uri          TEXT NOT NULL,
	scope                 TEXT NOT NULL DEFAULT '',
	state                 TEXT NOT NULL DEFAULT '',
	code_challenge        TEXT NOT NULL DEFAULT '',
	code_challenge_method VARCHAR(16) NOT NULL DEFAULT '',
	used                  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at            TIMESTAMPTZ NOT NULL,
	expires_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS access_tokens (
	id               VARCHAR(64) PRIMARY KEY,
	token            VARCHAR(512) NOT NULL UNIQUE,
	client_id        VARCHAR(255) NOT NULL,
	user_id          VARCHAR(255) NOT NULL,
	scope            TEXT NOT NULL DEFAULT '',
	refresh_token_id VARCHAR(64) NOT NULL DEFAULT '',
	revoked          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_access_tokens_refresh ON access_tokens(refresh_token_id);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id              VARCHAR(64) PRIMARY KEY,
	token           VARCHAR(512) NOT NULL UNIQUE,
	access_token_id VARCHAR(64) NOT NULL DEFAULT '',
	client_id       VARCHAR(255) NOT NULL,
	user_id         VARCHAR(255) NOT NULL,
	scope           TEXT NOT NULL DEFAULT '',
	revoked         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL
);
`
