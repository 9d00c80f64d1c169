package database

// Space names a record space (a table) of the local store.
type Space string

const (
	SpaceCollections   Space = "collections"
	SpaceDebtorRecords Space = "debtor_records"
	SpaceTemplates     Space = "templates"
)

// Mode is the access mode of a transactional unit.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// SpaceDef describes the on-disk shape of a space at SchemaVersion.
type SpaceDef struct {
	Table   string
	Key     string
	Indexes map[string][]string
}

var catalog = map[Space]SpaceDef{
	SpaceCollections: {
		Table:   "collections",
		Key:     "id",
		Indexes: map[string][]string{"order": {"sort_order"}},
	},
	SpaceDebtorRecords: {
		Table: "debtor_records",
		Key:   "id",
		Indexes: map[string][]string{
			"cid":        {"cid"},
			"cid_credit": {"cid", "nro_credito"},
		},
	},
	SpaceTemplates: {
		Table: "templates",
		Key:   "id",
		Indexes: map[string][]string{
			"name":      {"name_fold"},
			"createdAt": {"created_at"},
		},
	},
}

// Describe returns the definition of a space.
func Describe(s Space) (SpaceDef, bool) {
	def, ok := catalog[s]
	return def, ok
}
