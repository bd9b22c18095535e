package transform

import (
	"context"
	"strings"

	"github.com/withObsrvr/obsrvr-medallion/internal/citykey"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

// Stats counts what cleaning absorbed.
type Stats struct {
	Rows              int64
	MissingFatalities int64 // blank FATALITIES
	InvalidFatalities int64 // non-blank FATALITIES that did not cast
	InvalidDates      int64
	EmptyKeys         int64
}

// Merge adds other into s.
func (s Stats) Merge(other Stats) Stats {
	s.Rows += other.Rows
	s.MissingFatalities += other.MissingFatalities
	s.InvalidFatalities += other.InvalidFatalities
	s.InvalidDates += other.InvalidDates
	s.EmptyKeys += other.EmptyKeys
	return s
}

// Rejections returns the non-fatal rejection counts by reason.
func (s Stats) Rejections() map[string]int64 {
	return map[string]int64{
		"missing_fatalities": s.MissingFatalities,
		"invalid_fatalities": s.InvalidFatalities,
		"invalid_date":       s.InvalidDates,
		"empty_city_key":     s.EmptyKeys,
	}
}

func mergeAll(parts []Stats) Stats {
	var total Stats
	for _, p := range parts {
		total = total.Merge(p)
	}
	return total
}

// ConflictPlan maps the conflict source onto silver.conflito.
var ConflictPlan = ColumnPlan{
	Drop: []string{"EVENT_DATE", "LOCATION", "LATITUDE", "LONGITUDE", "LOCATION_2", "LOCATION_3"},
	Rename: map[string]string{
		"EVENT_TYPE":     "TIPO_EVENTO",
		"SUB_EVENT_TYPE": "SUB_TIPO_EVENTO",
		"ACTOR1":         "ATOR_PRIMARIO",
		"ACTOR2":         "ATOR_SECUNDARIO",
		"COUNTRY":        "PAIS",
		"SOURCE_SCALE":   "ESCALA_GEOGRAFICA",
		"NOTES":          "DESCRICAO",
		"FATALITIES":     "FATALIDADE",
	},
	Derived:  []string{"ID_CITY", "MES", "ANO"},
	Reserved: []string{"ESTADO"},
	Required: []string{
		"LOCATION", "EVENT_DATE", "FATALITIES", "EVENT_TYPE", "SUB_EVENT_TYPE",
		"ACTOR1", "ACTOR2", "COUNTRY", "SOURCE_SCALE", "NOTES",
	},
}

// CityDropColumns are the socioeconomic columns removed from the city source.
var CityDropColumns = []string{
	"CITY", "IBGE_RES_POP", "IBGE_RES_POP_BRAS", "IBGE_RES_POP_ESTR", "IBGE_DU",
	"IBGE_DU_URBAN", "IBGE_DU_RURAL", "IBGE_POP", "IBGE_1", "IBGE_1-4", "IBGE_5-9",
	"IBGE_10-14", "IBGE_15-59", "IBGE_60+", "IBGE_PLANTED_AREA", "IBGE_CROP_PRODUCTION_$",
	"IDHM_Ranking_2010", "IDHM", "IDHM_Renda", "IDHM_Longevidade", "IDHM_Educacao",
	"LONG", "LAT", "ALT", "PAY_TV", "FIXED_PHONES", "AREA", "REGIAO_TUR", "CATEGORIA_TUR",
	"ESTIMATED_POP", "RURAL_URBAN", "GVA_AGROPEC", "GVA_INDUSTRY", "GVA_SERVICES",
	"GVA_PUBLIC", "GVA_TOTAL", "TAXES", "GDP", "POP_GDP", "GDP_CAPITA", "GVA_MAIN",
	"MUN_EXPENDIT", "COMP_TOT", "COMP_A", "COMP_B", "COMP_C", "COMP_D", "COMP_E",
	"COMP_F", "COMP_G", "COMP_H", "COMP_I", "COMP_J", "COMP_K", "COMP_L", "COMP_M",
	"COMP_N", "COMP_O", "COMP_P", "COMP_Q", "COMP_R", "COMP_S", "COMP_T", "COMP_U",
	"HOTELS", "BEDS", "Pr_Agencies", "Pu_Agencies", "Pr_Bank", "Pu_Bank", "Pr_Assets",
	"Pu_Assets", "Cars", "Motorcycles", "Wheeled_tractor", "UBER", "MAC", "WAL-MART",
	"POST_OFFICES",
}

// CityPlan maps the city source onto silver.cidade.
var CityPlan = ColumnPlan{
	Drop:     CityDropColumns,
	Rename:   map[string]string{"STATE": "ESTADO"},
	Derived:  []string{"ID_CITY"},
	Required: []string{"CITY", "STATE"},
}

// conflictFields holds source column positions, -1 when absent.
type conflictFields struct {
	location     int
	date         int
	fatalities   int
	eventType    int
	subEventType int
	actor1       int
	actor2       int
	country      int
	sourceScale  int
	notes        int
}

func bindConflict(r *Resolved) conflictFields {
	return conflictFields{
		location:     r.Index("LOCATION"),
		date:         r.Index("EVENT_DATE"),
		fatalities:   r.Index("FATALITIES"),
		eventType:    r.Index("EVENT_TYPE"),
		subEventType: r.Index("SUB_EVENT_TYPE"),
		actor1:       r.Index("ACTOR1"),
		actor2:       r.Index("ACTOR2"),
		country:      r.Index("COUNTRY"),
		sourceScale:  r.Index("SOURCE_SCALE"),
		notes:        r.Index("NOTES"),
	}
}

func cleanConflict(r *Resolved, f conflictFields, row []string, st *Stats) tables.ConflictRecord {
	st.Rows++

	rawFatalities := cell(row, f.fatalities)
	fatalities := ParseFatalities(rawFatalities)
	if fatalities == nil {
		if strings.TrimSpace(rawFatalities) == "" {
			st.MissingFatalities++
		} else {
			st.InvalidFatalities++
		}
	}

	month, year, ok := MonthYear(cell(row, f.date))
	if !ok {
		st.InvalidDates++
	}

	key := citykey.Normalize(cell(row, f.location))
	if key == "" {
		st.EmptyKeys++
	}

	return tables.ConflictRecord{
		EventType:      cell(row, f.eventType),
		SubEventType:   cell(row, f.subEventType),
		PrimaryActor:   cell(row, f.actor1),
		SecondaryActor: cell(row, f.actor2),
		Country:        cell(row, f.country),
		GeoScale:       cell(row, f.sourceScale),
		Description:    cell(row, f.notes),
		Fatalities:     fatalities,
		CityKey:        key,
		Month:          month,
		Year:           year,
		Extra:          r.Extra(row),
	}
}

// CleanConflicts maps every bronze conflict row to a silver record.
func CleanConflicts(ctx context.Context, raw *tables.RawTable, opts Options) ([]tables.ConflictRecord, Stats, error) {
	res, err := ConflictPlan.Resolve(raw.Columns)
	if err != nil {
		return nil, Stats{}, err
	}
	fields := bindConflict(res)

	opts = opts.Normalized()
	stats := make([]Stats, NumPartitions(len(raw.Rows), opts.PartitionSize))

	out, err := MapPartitions(ctx, raw.Rows, opts, func(ctx context.Context, part int, rows [][]string) ([]tables.ConflictRecord, error) {
		records := make([]tables.ConflictRecord, len(rows))
		for i, row := range rows {
			records[i] = cleanConflict(res, fields, row, &stats[part])
		}
		return records, nil
	})
	if err != nil {
		return nil, Stats{}, err
	}
	return out, mergeAll(stats), nil
}

// CleanCities maps every bronze city row to a silver record.
func CleanCities(ctx context.Context, raw *tables.RawTable, opts Options) ([]tables.CityDigest, Stats, error) {
	res, err := CityPlan.Resolve(raw.Columns)
	if err != nil {
		return nil, Stats{}, err
	}
	city, state := res.Index("CITY"), res.Index("STATE")

	opts = opts.Normalized()
	stats := make([]Stats, NumPartitions(len(raw.Rows), opts.PartitionSize))

	out, err := MapPartitions(ctx, raw.Rows, opts, func(ctx context.Context, part int, rows [][]string) ([]tables.CityDigest, error) {
		st := &stats[part]
		digests := make([]tables.CityDigest, len(rows))
		for i, row := range rows {
			st.Rows++
			key := citykey.Normalize(cell(row, city))
			if key == "" {
				st.EmptyKeys++
			}
			digests[i] = tables.CityDigest{
				CityKey: key,
				State:   cell(row, state),
				Extra:   res.Extra(row),
			}
		}
		return digests, nil
	})
	if err != nil {
		return nil, Stats{}, err
	}
	return out, mergeAll(stats), nil
}
