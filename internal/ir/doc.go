// Package ir provides the canonical value and result types for xfilter.
//
// All other internal packages import ir; ir imports nothing internal. This
// keeps IR the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - IRValue is sealed; request keys are computed only from IRValues
//   - Request keys are SHA-256 over RFC 8785 canonical JSON
//   - All JSON tags use snake_case
package ir
