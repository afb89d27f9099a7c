package database

// Schema creates every table, index and trigger the service needs. It is
// idempotent and applied on startup through RunMigrations.
//
// Notable constraints:
//   - escort_sessions_one_open_per_owner: at most one non-resolved session
//     per owner. Activation relies on it as its conditional insert.
//   - escort_sessions_deadlines_ordered: created_at < scheduled_end_at < buffer_end_at.
//   - safety_codes_distinct: the two code hashes never match.
//   - escalation_events is append-only; UPDATE and DELETE raise.
const Schema = `
	CREATE TABLE IF NOT EXISTS safety_codes (
		owner_id UUID PRIMARY KEY,
		disarm_hash BYTEA NOT NULL,
		decoy_hash BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT safety_codes_distinct CHECK (disarm_hash <> decoy_hash)
	);

	CREATE TABLE IF NOT EXISTS guardian_groups (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		guardians JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_guardian_groups_owner ON guardian_groups(owner_id);

	CREATE TABLE IF NOT EXISTS escort_sessions (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		state VARCHAR(32) NOT NULL
			CHECK (state IN ('draft', 'active', 'buffer_grace', 'escalated', 'resolved')),
		created_at TIMESTAMPTZ NOT NULL,
		scheduled_end_at TIMESTAMPTZ NOT NULL,
		buffer_end_at TIMESTAMPTZ NOT NULL,
		guardian_group_ids UUID[] NOT NULL,
		intel JSONB NOT NULL,
		last_gps JSONB,
		ended_via VARCHAR(32),
		resolved_via VARCHAR(32),
		ended_at TIMESTAMPTZ,
		nearest_responder JSONB,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT escort_sessions_deadlines_ordered
			CHECK (created_at < scheduled_end_at AND scheduled_end_at < buffer_end_at),
		CONSTRAINT escort_sessions_groups_present
			CHECK (cardinality(guardian_group_ids) > 0)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS escort_sessions_one_open_per_owner
		ON escort_sessions(owner_id) WHERE state <> 'resolved';
	CREATE INDEX IF NOT EXISTS idx_escort_sessions_state ON escort_sessions(state);

	CREATE TABLE IF NOT EXISTS escalation_events (
		id BIGSERIAL PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES escort_sessions(id),
		type VARCHAR(32) NOT NULL
			CHECK (type IN ('gps_update', 'guardian_notified', 'escalated', 'resolved')),
		dedupe_key VARCHAR(128),
		payload JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_escalation_events_session ON escalation_events(session_id, id);
	CREATE UNIQUE INDEX IF NOT EXISTS escalation_events_dedupe
		ON escalation_events(session_id, dedupe_key) WHERE dedupe_key IS NOT NULL;

	CREATE OR REPLACE FUNCTION reject_event_mutation()
	RETURNS TRIGGER AS $$
	BEGIN
		RAISE EXCEPTION 'escalation_events is append-only';
	END;
	$$ language 'plpgsql';

	DROP TRIGGER IF EXISTS escalation_events_append_only ON escalation_events;
	CREATE TRIGGER escalation_events_append_only BEFORE UPDATE OR DELETE ON escalation_events
		FOR EACH ROW EXECUTE FUNCTION reject_event_mutation();
`
