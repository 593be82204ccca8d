package storage

const schema = `
-- The 'sources' table tracks where question banks come from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- 'local' or 'git'
    last_scanned INTEGER -- unix milliseconds
);

-- The 'questions' table is the content store. Position is the bank order within a song.
CREATE TABLE IF NOT EXISTS questions (
    uuid TEXT PRIMARY KEY,
    song_id TEXT NOT NULL,
    locale TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    question TEXT NOT NULL,
    option_a TEXT NOT NULL,
    option_b TEXT NOT NULL,
    option_c TEXT NOT NULL,
    option_d TEXT NOT NULL,
    correct TEXT NOT NULL,
    audio_cid TEXT,
    hash TEXT NOT NULL,
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

CREATE INDEX IF NOT EXISTS idx_questions_song ON questions(song_id, locale, position);
CREATE INDEX IF NOT EXISTS idx_questions_source ON questions(source_id);

-- The 'progress' table holds one row per completed session. Answers and cards are stored as JSON.
CREATE TABLE IF NOT EXISTS progress (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    song_id TEXT NOT NULL,
    total_correct INTEGER NOT NULL,
    total_questions INTEGER NOT NULL,
    completed_at INTEGER NOT NULL, -- unix milliseconds
    questions TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_progress_user_song ON progress(user_id, song_id, completed_at);
`
