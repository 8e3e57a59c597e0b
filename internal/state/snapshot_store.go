// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/kfund-labs/uniliq/internal/types"
)

// FundSnapshot is one point-in-time observation of the fund's accounting.
type FundSnapshot struct {
	Timestamp       time.Time        `json:"timestamp"`
	TotalSupply     sdkmath.Int      `json:"total_supply"`
	TotalAssets     sdkmath.Int      `json:"total_assets"`
	IdleAssets      sdkmath.Int      `json:"idle_assets"`
	LiquidityAssets sdkmath.Int      `json:"liquidity_assets"`
	NetValue        sdkmath.Int      `json:"net_value"`
	Positions       []types.Position `json:"positions"`
}

// SaveFundSnapshot saves a fund snapshot to the database.
func SaveFundSnapshot(snapshot FundSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal positions: %w", err)
	}

	query := `
		INSERT INTO fund_snapshots (
			snapshot_timestamp, total_supply, total_assets,
			idle_assets, liquidity_assets, net_value,
			position_count, positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.Timestamp, snapshot.TotalSupply.String(), snapshot.TotalAssets.String(),
		snapshot.IdleAssets.String(), snapshot.LiquidityAssets.String(), snapshot.NetValue.String(),
		len(snapshot.Positions), positionsJSON,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save fund snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("total_assets", snapshot.TotalAssets.String()).
		Int("positions", len(snapshot.Positions)).
		Msg("Fund snapshot saved to database")

	return snapshotID, nil
}

// GetLatestFundSnapshot returns the most recent snapshot, or nil when none
// has been recorded yet.
func GetLatestFundSnapshot() (*FundSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_timestamp, total_supply, total_assets,
			idle_assets, liquidity_assets, net_value, positions
		FROM fund_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1;
	`

	var (
		snapshot      FundSnapshot
		supplyStr     string
		assetsStr     string
		idleStr       string
		liquidityStr  string
		netStr        string
		positionsJSON []byte
	)
	err := DB.QueryRow(query).Scan(
		&snapshot.Timestamp, &supplyStr, &assetsStr,
		&idleStr, &liquidityStr, &netStr, &positionsJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest fund snapshot: %w", err)
	}

	for _, pair := range []struct {
		dst *sdkmath.Int
		src string
	}{
		{&snapshot.TotalSupply, supplyStr},
		{&snapshot.TotalAssets, assetsStr},
		{&snapshot.IdleAssets, idleStr},
		{&snapshot.LiquidityAssets, liquidityStr},
		{&snapshot.NetValue, netStr},
	} {
		v, ok := sdkmath.NewIntFromString(pair.src)
		if !ok {
			return nil, fmt.Errorf("invalid integer column value: %s", pair.src)
		}
		*pair.dst = v
	}

	if err := json.Unmarshal(positionsJSON, &snapshot.Positions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal positions: %w", err)
	}

	return &snapshot, nil
}
