package entity

// Re-export common types from the common package.

import (
	"wellness/internal/entity/common"
)

// Type aliases for common types
type JSONMap = common.JSONMap
type Meta = common.Meta
type BaseParams = common.BaseParams
