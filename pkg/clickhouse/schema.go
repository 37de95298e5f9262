package clickhouse

import "fmt"

// FluxTable is the table observations are stored in.
const FluxTable = "radio_flux"

// FluxSchema returns the DDL for the flux store. ReplacingMergeTree keyed on
// (dataset, time) makes re-ingesting the same day an upsert.
func FluxSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	dataset       LowCardinality(String),
	time          DateTime64(3, 'UTC'),
	observed_flux Nullable(Float64),
	adjusted_flux Nullable(Float64),
	source        LowCardinality(String),
	ingested_at   DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYear(time)
ORDER BY (dataset, time)`, database, FluxTable),
	}
}
