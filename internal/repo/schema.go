package repo

// Schema is the DDL for the Durable Log Store. It is embedded here
// rather than shipped as a separate migration tool (out of scope per
// SPEC_FULL.md §1) so that tests and small deployments can bootstrap a
// database with a single call.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_application (
    id           BIGSERIAL PRIMARY KEY,
    token        TEXT NOT NULL UNIQUE,
    name         TEXT NOT NULL,
    chats_count  BIGINT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat (
    id                    BIGSERIAL PRIMARY KEY,
    chat_application_id   BIGINT NOT NULL REFERENCES chat_application(id) ON DELETE CASCADE,
    number                BIGINT NOT NULL,
    messages_count        BIGINT NOT NULL DEFAULT 0,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (chat_application_id, number)
);

CREATE TABLE IF NOT EXISTS chat_message (
    id          BIGSERIAL PRIMARY KEY,
    chat_id     BIGINT NOT NULL REFERENCES chat(id) ON DELETE CASCADE,
    number      BIGINT NOT NULL,
    body        TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (chat_id, number)
);
`
