package pipeline

import (
	"fmt"

	"github.com/withObsrvr/obsrvr-medallion/internal/catalog"
	"github.com/withObsrvr/obsrvr-medallion/internal/lineage"
	"github.com/withObsrvr/obsrvr-medallion/internal/metadata"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

var tableDescriptions = map[string]string{
	tables.TierBronze + "." + tables.ConflictTable: "Raw political violence and protest events",
	tables.TierBronze + "." + tables.CityTable:     "Raw Brazilian city indicators",
	tables.TierSilver + "." + tables.ConflictTable: "Cleaned conflict events keyed by city",
	tables.TierSilver + "." + tables.CityTable:     "City key to state digest",
	tables.TierGold + "." + tables.ConflictTable:   "Conflict events enriched with state",
}

// datasetInfo creates a DatasetInfo for a table.
func datasetInfo(ref catalog.TableRef) metadata.DatasetInfo {
	return metadata.DatasetInfo{
		Namespace:     ref.Namespace,
		Tier:          ref.Tier,
		Table:         ref.Table,
		SchemaVersion: tables.SchemaVersion,
		Description:   tableDescriptions[ref.Tier+"."+ref.Table],
	}
}

// inputLabels renders inputs as table@version.
func inputLabels(inputs []*catalog.Manifest) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = in.Table + "@" + in.Version
	}
	return out
}

// buildLineageRecord creates a LineageRecord for a published version.
func buildLineageRecord(p *Pipeline, datasetID int64, req publishRequest, m *catalog.Manifest, prevHash string) metadata.LineageRecord {
	return metadata.LineageRecord{
		DatasetID:       datasetID,
		Version:         m.Version,
		RunID:           m.RunID,
		RowCount:        m.File.RowCount,
		ByteSize:        m.File.ByteSize,
		Checksum:        m.File.Checksum,
		PrevHash:        prevHash,
		StoragePath:     m.File.Key,
		StorageURI:      p.catalog.URI(m.File.Key),
		Inputs:          inputLabels(req.Inputs),
		ProducerVersion: fmt.Sprintf("%s@%s", ProducerName, Version),
		ProducerGitSHA:  GitSHA,
		SourceType:      req.Origin.Type,
		SourceLocation:  req.Origin.Location,
	}
}

// buildLineageEvent creates the audit event for a published version.
func buildLineageEvent(p *Pipeline, req publishRequest, m *catalog.Manifest) *lineage.Event {
	inputs := make([]lineage.InputInfo, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = lineage.InputInfo{
			Table:    in.Table,
			Version:  in.Version,
			Checksum: in.File.Checksum,
		}
	}

	return &lineage.Event{
		Table: lineage.TableInfo{
			Namespace:   req.Ref.Namespace,
			Tier:        req.Ref.Tier,
			Name:        req.Ref.Table,
			Version:     m.Version,
			RunID:       m.RunID,
			Checksum:    m.File.Checksum,
			RowCount:    m.File.RowCount,
			ByteSize:    m.File.ByteSize,
			StoragePath: m.File.Key,
		},
		Inputs: inputs,
		Producer: lineage.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
	}
}

// withExtras appends the pass-through column names carried by the first row.
func withExtras(base []string, extra []tables.Attribute) []string {
	cols := make([]string, 0, len(base)+len(extra))
	cols = append(cols, base...)
	for _, a := range extra {
		cols = append(cols, a.Column)
	}
	return cols
}
