package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		remoteLifecyclePolicy(),
		actionShapePolicy(),
	}
}

// remoteLifecyclePolicy stops peers from rehydrating or re-initializing a store.
func remoteLifecyclePolicy() Policy {
	return Policy{
		Name:        "builtin-remote-lifecycle",
		Description: "Rejects store and persist lifecycle actions received from another origin",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package statekeep.builtin.lifecycle

import rego.v1

lifecycle_prefixes := {"store/", "persist/"}

deny contains violation if {
	input.action.meta.remote
	some prefix in lifecycle_prefixes
	startswith(input.action.type, prefix)
	violation := {
		"message": sprintf("lifecycle action %s may not come from origin %s", [input.action.type, input.action.meta.origin]),
		"severity": "critical",
	}
}
`,
	}
}

// actionShapePolicy warns about action types without a namespace.
func actionShapePolicy() Policy {
	return Policy{
		Name:        "builtin-action-shape",
		Description: "Warns when an action type has no namespace/NAME form",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package statekeep.builtin.shape

import rego.v1

deny contains violation if {
	not contains(input.action.type, "/")
	violation := {
		"message": sprintf("action type %q has no namespace", [input.action.type]),
		"severity": "warning",
	}
}
`,
	}
}
