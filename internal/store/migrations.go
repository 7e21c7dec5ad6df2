package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS communities (
    display_name       TEXT PRIMARY KEY,
    fullname           TEXT NOT NULL DEFAULT '',
    community_id       TEXT NOT NULL DEFAULT '',
    created_at         DATETIME,
    description        TEXT NOT NULL DEFAULT '',
    public_description TEXT NOT NULL DEFAULT '',
    subscribers        INTEGER NOT NULL DEFAULT 0,
    over18             BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS authors (
    username   TEXT PRIMARY KEY,
    created_at DATETIME
);

CREATE TABLE IF NOT EXISTS author_snapshots (
    username            TEXT NOT NULL REFERENCES authors(username),
    captured_at         DATETIME NOT NULL,
    link_karma          INTEGER NOT NULL DEFAULT 0,
    comment_karma       INTEGER NOT NULL DEFAULT 0,
    has_verified_email  BOOLEAN NOT NULL DEFAULT 0,
    profile_title       TEXT NOT NULL DEFAULT '',
    profile_description TEXT NOT NULL DEFAULT '',
    profile_over18      BOOLEAN NOT NULL DEFAULT 0,
    PRIMARY KEY (username, captured_at)
);

CREATE TABLE IF NOT EXISTS posts (
    id             TEXT PRIMARY KEY,
    created_at     DATETIME NOT NULL,
    author_name    TEXT NOT NULL REFERENCES authors(username),
    community_name TEXT NOT NULL REFERENCES communities(display_name),
    title          TEXT NOT NULL DEFAULT '',
    body           TEXT NOT NULL DEFAULT '',
    permalink      TEXT NOT NULL DEFAULT '',
    url            TEXT NOT NULL DEFAULT '',
    flair          TEXT NOT NULL DEFAULT '',
    is_self        BOOLEAN NOT NULL DEFAULT 0,
    over18         BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_name);
CREATE INDEX IF NOT EXISTS idx_posts_community ON posts(community_name);

CREATE TABLE IF NOT EXISTS replies (
    id          TEXT PRIMARY KEY,
    created_at  DATETIME NOT NULL,
    author_name TEXT NOT NULL REFERENCES authors(username),
    post_id     TEXT NOT NULL REFERENCES posts(id),
    body        TEXT NOT NULL DEFAULT '',
    permalink   TEXT NOT NULL DEFAULT '',
    parent_id   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_replies_author ON replies(author_name);
CREATE INDEX IF NOT EXISTS idx_replies_post ON replies(post_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS communities (
    display_name       TEXT PRIMARY KEY,
    fullname           TEXT NOT NULL DEFAULT '',
    community_id       TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ,
    description        TEXT NOT NULL DEFAULT '',
    public_description TEXT NOT NULL DEFAULT '',
    subscribers        BIGINT NOT NULL DEFAULT 0,
    over18             BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS authors (
    username   TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS author_snapshots (
    username            TEXT NOT NULL REFERENCES authors(username),
    captured_at         TIMESTAMPTZ NOT NULL,
    link_karma          BIGINT NOT NULL DEFAULT 0,
    comment_karma       BIGINT NOT NULL DEFAULT 0,
    has_verified_email  BOOLEAN NOT NULL DEFAULT FALSE,
    profile_title       TEXT NOT NULL DEFAULT '',
    profile_description TEXT NOT NULL DEFAULT '',
    profile_over18      BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (username, captured_at)
);

CREATE TABLE IF NOT EXISTS posts (
    id             TEXT PRIMARY KEY,
    created_at     TIMESTAMPTZ NOT NULL,
    author_name    TEXT NOT NULL REFERENCES authors(username),
    community_name TEXT NOT NULL REFERENCES communities(display_name),
    title          TEXT NOT NULL DEFAULT '',
    body           TEXT NOT NULL DEFAULT '',
    permalink      TEXT NOT NULL DEFAULT '',
    url            TEXT NOT NULL DEFAULT '',
    flair          TEXT NOT NULL DEFAULT '',
    is_self        BOOLEAN NOT NULL DEFAULT FALSE,
    over18         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_name);
CREATE INDEX IF NOT EXISTS idx_posts_community ON posts(community_name);

CREATE TABLE IF NOT EXISTS replies (
    id          TEXT PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL,
    author_name TEXT NOT NULL REFERENCES authors(username),
    post_id     TEXT NOT NULL REFERENCES posts(id),
    body        TEXT NOT NULL DEFAULT '',
    permalink   TEXT NOT NULL DEFAULT '',
    parent_id   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_replies_author ON replies(author_name);
CREATE INDEX IF NOT EXISTS idx_replies_post ON replies(post_id);
`
