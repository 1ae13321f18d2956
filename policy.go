package fieldsync

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Strategy selects how a mutation's local effect is reconciled with the
// server.
type Strategy string

const (
	// StrategyOptimistic applies the optimistic payload locally and trusts
	// it until the server responds.
	StrategyOptimistic Strategy = "optimistic"
	// StrategyInvalidate skips the optimistic write entirely; affected
	// collections are marked stale and refetched after commit.
	StrategyInvalidate Strategy = "invalidate"
	// StrategyHybrid applies optimistically and additionally invalidates
	// dependent collections on success.
	StrategyHybrid Strategy = "hybrid"
)

// Valid reports whether the strategy is one of the three known values.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyOptimistic, StrategyInvalidate, StrategyHybrid:
		return true
	}
	return false
}

// optimistic reports whether the strategy writes to the cache before the
// server confirms.
func (s Strategy) optimistic() bool {
	return s == StrategyOptimistic || s == StrategyHybrid
}

// Policy is the reconciliation configuration for one resource type.
type Policy struct {
	// ResourceType is the resource this policy applies to.
	ResourceType string `yaml:"resource_type" json:"resource_type"`

	// Strategy selects the reconciliation strategy.
	Strategy Strategy `yaml:"strategy" json:"strategy"`

	// DependentCollections are collection keys invalidated after a
	// successful commit (e.g. an action checkout invalidates "tools").
	DependentCollections []CollectionKey `yaml:"dependent_collections" json:"dependent_collections,omitempty"`
}

// PolicyTable is the immutable per-resource-type policy configuration,
// loaded once at engine construction.
type PolicyTable struct {
	policies map[string]Policy
}

// NewPolicyTable builds a table from explicit policies. Duplicate resource
// types and invalid strategies are rejected.
func NewPolicyTable(policies []Policy) (*PolicyTable, error) {
	table := &PolicyTable{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if p.ResourceType == "" {
			return nil, fmt.Errorf("%w: policy with empty resource type", ErrInvalidMutation)
		}
		if !p.Strategy.Valid() {
			return nil, fmt.Errorf("policy %s: unknown strategy %q", p.ResourceType, p.Strategy)
		}
		if _, exists := table.policies[p.ResourceType]; exists {
			return nil, fmt.Errorf("duplicate policy for resource type %s", p.ResourceType)
		}
		table.policies[p.ResourceType] = p
	}
	return table, nil
}

// policyFile is the YAML document shape for LoadPolicies.
type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// LoadPolicies parses a YAML policy document:
//
//	policies:
//	  - resource_type: tools
//	    strategy: optimistic
//	  - resource_type: actions
//	    strategy: hybrid
//	    dependent_collections: [tools, parts]
func LoadPolicies(data []byte) (*PolicyTable, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if len(file.Policies) == 0 {
		return nil, fmt.Errorf("policy document declares no policies")
	}
	return NewPolicyTable(file.Policies)
}

// Lookup returns the policy for a resource type.
func (t *PolicyTable) Lookup(resourceType string) (Policy, bool) {
	p, ok := t.policies[resourceType]
	return p, ok
}

// ResourceTypes returns the configured resource types.
func (t *PolicyTable) ResourceTypes() []string {
	types := make([]string, 0, len(t.policies))
	for rt := range t.policies {
		types = append(types, rt)
	}
	return types
}
