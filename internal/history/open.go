package history

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
)

// Open builds the store selected by cfg. The "none" backend yields nil.
func Open(ctx context.Context, cfg *config.Config, logger *events.Logger) (Store, error) {
	switch cfg.History.Backend {
	case config.HistoryNone, "":
		return nil, nil
	case config.HistorySQLite:
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		store, err := NewSQLiteStore(cfg.History.Path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.HistoryDynamoDB:
		sdk, err := cfg.AWS.SDKConfig(ctx)
		if err != nil {
			return nil, err
		}
		store, err := NewDynamoDBStore(dynamodb.NewFromConfig(sdk), cfg.History.Table, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
