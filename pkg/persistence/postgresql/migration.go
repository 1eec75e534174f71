package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE purchases (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				automation_id VARCHAR(255) NOT NULL,
				package_tier VARCHAR(100) NOT NULL,
				billing_cycle VARCHAR(20) NOT NULL CHECK (billing_cycle IN ('monthly', 'yearly')),
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'paused', 'cancelled', 'expired')),
				price_minor BIGINT NOT NULL DEFAULT 0,
				currency CHAR(3) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_purchases_tenant ON purchases(tenant_id);

			CREATE TABLE integration_credentials (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				service VARCHAR(100) NOT NULL,
				credentials JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(20) NOT NULL,
				verification_level VARCHAR(20),
				last_validated_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (tenant_id, service)
			);

			CREATE TABLE workflow_templates (
				automation_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL CHECK (version > 0),
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				required_services JSONB NOT NULL,
				definition JSONB NOT NULL,
				bindings JSONB NOT NULL DEFAULT '{}',
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (automation_id, version)
			);

			CREATE TABLE workflow_instances (
				id UUID PRIMARY KEY,
				purchase_id UUID NOT NULL UNIQUE REFERENCES purchases(id),
				tenant_id VARCHAR(255) NOT NULL,
				automation_id VARCHAR(255) NOT NULL,
				template_version INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL,
				health VARCHAR(20) NOT NULL DEFAULT 'unknown',
				external_id VARCHAR(255),
				error_message TEXT,
				error_count INTEGER NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				config JSONB NOT NULL DEFAULT '{}',
				last_health_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_tenant ON workflow_instances(tenant_id);
			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);

			CREATE TABLE queue_jobs (
				id UUID PRIMARY KEY,
				action VARCHAR(20) NOT NULL,
				purchase_id UUID NOT NULL,
				instance_id UUID,
				payload JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(20) NOT NULL CHECK (status IN ('queued', 'processing', 'completed', 'failed', 'dead_letter')),
				priority INTEGER NOT NULL DEFAULT 0,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 5,
				last_error TEXT,
				result TEXT,
				scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				claimed_by VARCHAR(255),
				claimed_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_queue_jobs_runnable ON queue_jobs(status, scheduled_at, priority DESC, created_at);
			CREATE INDEX idx_queue_jobs_purchase ON queue_jobs(purchase_id, status);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				instance_id UUID NOT NULL,
				external_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT,
				items_processed INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				metadata JSONB NOT NULL DEFAULT '{}'
			);

			CREATE INDEX idx_workflow_executions_instance ON workflow_executions(instance_id, started_at DESC);

			CREATE TABLE onboarding_progress (
				purchase_id UUID PRIMARY KEY REFERENCES purchases(id),
				tenant_id VARCHAR(255) NOT NULL,
				automation_id VARCHAR(255) NOT NULL,
				step VARCHAR(40) NOT NULL,
				required_services JSONB NOT NULL DEFAULT '[]',
				connected_services JSONB NOT NULL DEFAULT '[]',
				activation_requested BOOLEAN NOT NULL DEFAULT false,
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		2: `
			-- Operator listings filter dead-lettered jobs by age.
			CREATE INDEX idx_queue_jobs_dead_letter ON queue_jobs(updated_at) WHERE status = 'dead_letter';
		`,
	}
}
