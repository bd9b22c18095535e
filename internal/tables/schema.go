package tables

// Tier names of the three-level table namespace.
const (
	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"
)

// Table names shared across tiers.
const (
	ConflictTable = "conflito"
	CityTable     = "cidade"
)

// SchemaVersion returns the version of the silver/gold schemas.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"

// Attribute carries a source column that was neither renamed nor dropped.
type Attribute struct {
	Column string `parquet:"column"`
	Value  string `parquet:"value"`
}

// ConflictRecord is a cleaned conflict event (silver.conflito).
type ConflictRecord struct {
	EventType      string `parquet:"TIPO_EVENTO"`
	SubEventType   string `parquet:"SUB_TIPO_EVENTO"`
	PrimaryActor   string `parquet:"ATOR_PRIMARIO"`
	SecondaryActor string `parquet:"ATOR_SECUNDARIO"`
	Country        string `parquet:"PAIS"`
	GeoScale       string `parquet:"ESCALA_GEOGRAFICA"`
	Description    string `parquet:"DESCRICAO"`
	Fatalities     *int32 `parquet:"FATALIDADE,optional"`
	CityKey        string `parquet:"ID_CITY"`
	Month          *int32 `parquet:"MES,optional"`
	Year           *int32 `parquet:"ANO,optional"`

	Extra []Attribute `parquet:"extra,list"`
}

// ConflictColumns lists the silver conflict columns in table order.
var ConflictColumns = []string{
	"TIPO_EVENTO", "SUB_TIPO_EVENTO", "ATOR_PRIMARIO", "ATOR_SECUNDARIO", "PAIS",
	"ESCALA_GEOGRAFICA", "DESCRICAO", "FATALIDADE", "ID_CITY", "MES", "ANO",
}

// CityDigest is a cleaned city row (silver.cidade).
type CityDigest struct {
	CityKey string `parquet:"ID_CITY"`
	State   string `parquet:"ESTADO"`

	Extra []Attribute `parquet:"extra,list"`
}

// CityColumns lists the silver city columns in table order.
var CityColumns = []string{"ID_CITY", "ESTADO"}

// EnrichedConflict is a conflict event joined with its city's state (gold.conflito).
type EnrichedConflict struct {
	State          string `parquet:"ESTADO"`
	EventType      string `parquet:"TIPO_EVENTO"`
	SubEventType   string `parquet:"SUB_TIPO_EVENTO"`
	PrimaryActor   string `parquet:"ATOR_PRIMARIO"`
	SecondaryActor string `parquet:"ATOR_SECUNDARIO"`
	Country        string `parquet:"PAIS"`
	GeoScale       string `parquet:"ESCALA_GEOGRAFICA"`
	Description    string `parquet:"DESCRICAO"`
	Fatalities     *int32 `parquet:"FATALIDADE,optional"`
	CityKey        string `parquet:"ID_CITY"`
	Month          *int32 `parquet:"MES,optional"`
	Year           *int32 `parquet:"ANO,optional"`

	Extra []Attribute `parquet:"extra,list"`
}

// GoldColumns lists the gold columns in table order: the city's state first,
// then every conflict column.
var GoldColumns = append([]string{"ESTADO"}, ConflictColumns...)

// Enrich projects the city's state alongside every conflict column.
func Enrich(state string, c ConflictRecord) EnrichedConflict {
	return EnrichedConflict{
		State:          state,
		EventType:      c.EventType,
		SubEventType:   c.SubEventType,
		PrimaryActor:   c.PrimaryActor,
		SecondaryActor: c.SecondaryActor,
		Country:        c.Country,
		GeoScale:       c.GeoScale,
		Description:    c.Description,
		Fatalities:     c.Fatalities,
		CityKey:        c.CityKey,
		Month:          c.Month,
		Year:           c.Year,
		Extra:          c.Extra,
	}
}
