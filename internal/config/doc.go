// Package config loads the tenderscope configuration.
//
// # Configuration Sources
//
// Values are resolved in increasing order of precedence:
//
//	1. Default() values
//	2. A YAML file (explicit path, $TENDERSCOPE_CONFIG, or tenderscope.yaml)
//	3. Environment variables prefixed with TENDERSCOPE_
//
// # Environment Variables
//
// Nested sections map onto underscore-joined names:
//
//	TENDERSCOPE_SERVER_PORT=8080
//	TENDERSCOPE_PIPELINE_MIN_GROUP_SIZE=3
//	TENDERSCOPE_PIPELINE_RULE_WEIGHTS_LOW_COMPETITION=30
//	TENDERSCOPE_PIPELINE_MODEL_MODEL=ensemble
//	TENDERSCOPE_PIPELINE_COMPOSITE_MODEL=0.9
//	TENDERSCOPE_PIPELINE_ASSOCIATION_MAX_LEN=2
//	TENDERSCOPE_SNAPSHOT_BACKEND=sql
//
// # Validation
//
// Load validates struct tags with go-playground/validator and then the
// cross-field rules: rule weights must have a positive sum, composite
// weights must be finite and non-negative, the outlier configuration must
// build a detector, and the sql snapshot backend needs a DSN. Validation
// failures are AppErrors of type CONFIG.
package config
