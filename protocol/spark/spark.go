// Package spark tags the pool-family adapter for Spark, the MakerDAO
// fork of Aave v3. The view ABI is identical; only the deployment
// addresses, flash-loan fee and action names differ.
package spark

import (
	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/protocol"
)

// Variant is the action-name prefix registered for Spark.
const Variant = "Spark"

// New builds a Spark adapter.
func New(cfg protocol.PoolConfig, reader protocol.ChainReader, logger *zap.Logger) (*protocol.PoolAdapter, error) {
	return protocol.NewPoolAdapter(Variant, cfg, reader, logger)
}
