// Package aave tags the pool-family adapter for Aave v3 deployments.
package aave

import (
	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/protocol"
)

// Variant is the action-name prefix registered for Aave v3.
const Variant = "AaveV3"

// New builds an Aave v3 adapter.
func New(cfg protocol.PoolConfig, reader protocol.ChainReader, logger *zap.Logger) (*protocol.PoolAdapter, error) {
	return protocol.NewPoolAdapter(Variant, cfg, reader, logger)
}
