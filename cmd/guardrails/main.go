// Guardrails is the control plane for tenant guardrail policies.
//
// It serves the policy and rule resolution API and carries the operational
// commands around it:
//
//	# Start the API server
//	guardrails serve
//
//	# Create or upgrade the PostgreSQL schema
//	guardrails migrate
//
//	# Load the rule catalogue into the store
//	guardrails seed --file catalog.yaml
//
//	# Mint a bearer token for local testing
//	guardrails token --sub alice --role tenant_admin --tenant <uuid>
//
// Configuration comes from the environment (and an optional .env file).
package main

func main() {
	Execute()
}
