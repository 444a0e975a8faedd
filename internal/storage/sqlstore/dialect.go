package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL backends. Queries are
// written with ? placeholders and rebound for backends that number them.
type Dialect struct {
	Name     string
	numbered bool
	types    *strings.Replacer
}

var (
	// SQLite is the dialect for mattn/go-sqlite3
	SQLite = Dialect{
		Name: "sqlite",
		types: strings.NewReplacer(
			"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{int}}", "INTEGER",
			"{{time}}", "DATETIME",
			"{{true}}", "1",
			"{{false}}", "0",
		),
	}

	// Postgres is the dialect for the pgx stdlib driver
	Postgres = Dialect{
		Name:     "postgres",
		numbered: true,
		types: strings.NewReplacer(
			"{{pk}}", "BIGSERIAL PRIMARY KEY",
			"{{int}}", "BIGINT",
			"{{time}}", "TIMESTAMPTZ",
			"{{true}}", "TRUE",
			"{{false}}", "FALSE",
		),
	}
)

// Rebind rewrites ? placeholders into the dialect's placeholder syntax
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) schema() []string {
	stmts := make([]string, len(schemaTemplate))
	for i, s := range schemaTemplate {
		stmts[i] = d.types.Replace(s)
	}
	return stmts
}

var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id {{pk}},
		org_id {{int}} NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT {{true}},
		is_archived BOOLEAN NOT NULL DEFAULT {{false}},
		ignore_triggers BOOLEAN NOT NULL DEFAULT {{false}}
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id {{pk}},
		org_id {{int}} NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		urn TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS contact_groups (
		id {{pk}},
		org_id {{int}} NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT {{true}}
	)`,
	`CREATE TABLE IF NOT EXISTS contact_group_members (
		contact_id {{int}} NOT NULL REFERENCES contacts (id),
		group_id {{int}} NOT NULL REFERENCES contact_groups (id),
		PRIMARY KEY (contact_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id {{pk}},
		org_id {{int}} NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT {{true}}
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id {{pk}},
		org_id {{int}} NOT NULL,
		cron_spec TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS triggers (
		id {{pk}},
		org_id {{int}} NOT NULL,
		trigger_type TEXT NOT NULL,
		keyword TEXT,
		workflow_id {{int}} NOT NULL REFERENCES workflows (id),
		channel_id {{int}},
		schedule_id {{int}} REFERENCES schedules (id),
		is_archived BOOLEAN NOT NULL DEFAULT {{false}},
		is_active BOOLEAN NOT NULL DEFAULT {{true}},
		last_fired_at {{time}},
		fire_count {{int}} NOT NULL DEFAULT 0,
		created_at {{time}} NOT NULL,
		modified_at {{time}} NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		modified_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_org_type ON triggers (org_id, trigger_type)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_keyword ON triggers (org_id, keyword)`,
	`CREATE TABLE IF NOT EXISTS trigger_groups (
		trigger_id {{int}} NOT NULL REFERENCES triggers (id),
		group_id {{int}} NOT NULL REFERENCES contact_groups (id),
		PRIMARY KEY (trigger_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS trigger_contacts (
		trigger_id {{int}} NOT NULL REFERENCES triggers (id),
		contact_id {{int}} NOT NULL REFERENCES contacts (id),
		PRIMARY KEY (trigger_id, contact_id)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id {{pk}},
		contact_id {{int}} NOT NULL REFERENCES contacts (id),
		workflow_id {{int}} NOT NULL REFERENCES workflows (id),
		is_active BOOLEAN NOT NULL DEFAULT {{true}},
		exited_at {{time}},
		created_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_contact ON runs (contact_id, is_active)`,
}
