package tenancy

// Partition tables. Every club partition carries exactly this set.
const (
	TableMembers     = "members"
	TablePlans       = "plans"
	TableMemberPlans = "member_plans"
	TableCharges     = "charges"
	TablePayments    = "payments"
	TableAuditLogs   = "audit_logs"
)

// PartitionTables is sorted by name.
var PartitionTables = []string{
	TableAuditLogs,
	TableCharges,
	TableMemberPlans,
	TableMembers,
	TablePayments,
	TablePlans,
}

// UniquePaymentTxnConstraint backs the duplicate-payment guarantee.
const UniquePaymentTxnConstraint = "payments_gateway_txn_uq"

// Postgres DDL. %[1]s is the quoted schema.
var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s.members (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL,
		email text,
		phone text,
		document text,
		document_index text,
		status text NOT NULL DEFAULT 'ACTIVE',
		gateway_customer_id text,
		gateway_card_id text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS members_document_index_idx ON %[1]s.members (document_index)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.plans (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL,
		price_cents bigint NOT NULL CHECK (price_cents >= 0),
		billing_interval text NOT NULL DEFAULT 'MONTHLY',
		active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.member_plans (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		member_id uuid NOT NULL REFERENCES %[1]s.members (id) ON DELETE CASCADE,
		plan_id uuid NOT NULL REFERENCES %[1]s.plans (id),
		started_at timestamptz NOT NULL DEFAULT now(),
		ended_at timestamptz,
		CONSTRAINT member_plans_member_plan_uq UNIQUE (member_id, plan_id)
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.charges (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		member_id uuid NOT NULL REFERENCES %[1]s.members (id),
		amount_cents bigint NOT NULL,
		due_date timestamptz NOT NULL,
		status text NOT NULL,
		method text NOT NULL,
		external_id text,
		gateway text,
		gateway_metadata jsonb,
		paid_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS charges_member_due_idx ON %[1]s.charges (member_id, due_date)`,
	`CREATE INDEX IF NOT EXISTS charges_external_id_idx ON %[1]s.charges (external_id)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.payments (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		charge_id uuid NOT NULL REFERENCES %[1]s.charges (id),
		gateway text NOT NULL,
		gateway_transaction_id text NOT NULL,
		amount_cents bigint NOT NULL,
		paid_at timestamptz NOT NULL,
		raw jsonb,
		created_at timestamptz NOT NULL DEFAULT now(),
		CONSTRAINT payments_gateway_txn_uq UNIQUE (gateway_transaction_id)
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.audit_logs (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		actor_id text NOT NULL,
		action text NOT NULL,
		entity_type text NOT NULL,
		entity_id text NOT NULL,
		metadata jsonb,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_entity_idx ON %[1]s.audit_logs (entity_type, entity_id)`,
}

// SQLite DDL for an attached partition. Index names carry the schema and
// reference unqualified tables, as SQLite requires.
var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s.members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		document TEXT,
		document_index TEXT,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		gateway_customer_id TEXT,
		gateway_card_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS %[1]s.members_document_index_idx ON members (document_index)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		billing_interval TEXT NOT NULL DEFAULT 'MONTHLY',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.member_plans (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members (id) ON DELETE CASCADE,
		plan_id TEXT NOT NULL REFERENCES plans (id),
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		CONSTRAINT member_plans_member_plan_uq UNIQUE (member_id, plan_id)
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.charges (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members (id),
		amount_cents INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		external_id TEXT,
		gateway TEXT,
		gateway_metadata TEXT,
		paid_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS %[1]s.charges_member_due_idx ON charges (member_id, due_date)`,
	`CREATE INDEX IF NOT EXISTS %[1]s.charges_external_id_idx ON charges (external_id)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.payments (
		id TEXT PRIMARY KEY,
		charge_id TEXT NOT NULL REFERENCES charges (id),
		gateway TEXT NOT NULL,
		gateway_transaction_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		paid_at DATETIME NOT NULL,
		raw TEXT,
		created_at DATETIME NOT NULL,
		CONSTRAINT payments_gateway_txn_uq UNIQUE (gateway_transaction_id)
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.audit_logs (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS %[1]s.audit_logs_entity_idx ON audit_logs (entity_type, entity_id)`,
}
