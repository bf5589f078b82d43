package config

import (
	"os"
	"strconv"
)

// LoadLambdaConfig builds the configuration for the Lambda runtime: JSON logs
// to CloudWatch and DynamoDB history when a table is configured.
func LoadLambdaConfig() (*Config, error) {
	cfg, err := NewLoader("").Load()
	if err != nil {
		return nil, err
	}

	cfg.Log.Format = "json"
	cfg.Log.Color = false
	cfg.Log.File = ""

	if v := os.Getenv("HISTORY_TABLE_NAME"); v != "" {
		cfg.History.Backend = HistoryDynamoDB
		cfg.History.Table = v
	}
	if v := os.Getenv("KDBXDIFF_SECRET_NAME"); v != "" && cfg.AWS.SecretID == "" {
		cfg.AWS.SecretID = v
	}

	// Both inputs, their decrypted copies and the KDF working set share
	// the function's memory.
	if limit := lambdaMemoryMB() * 1024 * 1024 / 8; limit > 0 && limit < cfg.Source.MaxFileSize {
		cfg.Source.MaxFileSize = limit
	}

	return cfg, cfg.Validate()
}

// IsLambdaEnvironment checks if running in Lambda
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// lambdaMemoryMB returns the configured function memory, or 0 outside Lambda.
func lambdaMemoryMB() int64 {
	n, err := strconv.ParseInt(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
