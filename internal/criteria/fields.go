package criteria

// Field describes one logical customer field exposed to the segment builder.
// The catalog is a fixed table, not schema introspection, so the UI catalog
// and the SQL-generation whitelist cannot drift apart.
type Field struct {
	// Name is the logical field name used in criteria (e.g. "leadScore").
	Name string `json:"name"`

	// Label is the human-readable name for the segment builder UI.
	Label string `json:"label"`

	// Column is the physical column on the customers table.
	Column string `json:"-"`

	// DataType determines which operators apply and how values are validated.
	DataType DataType `json:"dataType"`

	// Options lists the allowed value/label pairs for enum fields.
	Options []FieldOption `json:"options,omitempty"`
}

// FieldOption is one allowed value for an enumerated field.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// operatorsByType maps each data type to the subset of operators that make
// sense for it. Exposed through the catalog so the UI offers only valid
// combinations; the same table backs write-time validation.
var operatorsByType = map[DataType][]Operator{
	TypeString: {
		OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith,
		OpEndsWith, OpIn, OpNotIn, OpRegex, OpIsNull, OpIsNotNull,
	},
	TypeNumber: {
		OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpBetween, OpIn, OpNotIn,
		OpIsNull, OpIsNotNull,
	},
	TypeBoolean: {
		OpEquals, OpNotEquals, OpIsNull, OpIsNotNull,
	},
	TypeDate: {
		OpDateBefore, OpDateAfter, OpDateBetween, OpDaysAgo,
		OpIsNull, OpIsNotNull,
	},
	TypeArray: {
		OpHasTag, OpNotHasTag, OpIsNull, OpIsNotNull,
	},
	TypeEnum: {
		OpEquals, OpNotEquals, OpIn, OpNotIn, OpIsNull, OpIsNotNull,
	},
}

// OperatorsFor returns the operators valid for the given data type.
func OperatorsFor(dt DataType) []Operator {
	return operatorsByType[dt]
}

// catalog is the static list of customer fields available for segmentation.
// Logical names are camelCase (API convention); columns are snake_case.
var catalog = []Field{
	{Name: "email", Label: "Email", Column: "email", DataType: TypeString},
	{Name: "fullName", Label: "Full name", Column: "full_name", DataType: TypeString},
	{Name: "phone", Label: "Phone", Column: "phone", DataType: TypeString},
	{Name: "city", Label: "City", Column: "city", DataType: TypeString},
	{Name: "country", Label: "Country", Column: "country", DataType: TypeString},
	{
		Name: "status", Label: "Status", Column: "status", DataType: TypeEnum,
		Options: []FieldOption{
			{Value: "lead", Label: "Lead"},
			{Value: "prospect", Label: "Prospect"},
			{Value: "active", Label: "Active"},
			{Value: "inactive", Label: "Inactive"},
			{Value: "churned", Label: "Churned"},
		},
	},
	{
		Name: "source", Label: "Acquisition source", Column: "source", DataType: TypeEnum,
		Options: []FieldOption{
			{Value: "website", Label: "Website"},
			{Value: "referral", Label: "Referral"},
			{Value: "campaign", Label: "Campaign"},
			{Value: "walk-in", Label: "Walk-in"},
		},
	},
	{
		Name: "customerType", Label: "Customer type", Column: "customer_type", DataType: TypeEnum,
		Options: []FieldOption{
			{Value: "individual", Label: "Individual"},
			{Value: "business", Label: "Business"},
		},
	},
	{Name: "leadScore", Label: "Lead score", Column: "lead_score", DataType: TypeNumber},
	{Name: "lifetimeValue", Label: "Lifetime value", Column: "lifetime_value", DataType: TypeNumber},
	{Name: "orderCount", Label: "Order count", Column: "order_count", DataType: TypeNumber},
	{Name: "isSubscribed", Label: "Subscribed to mailings", Column: "is_subscribed", DataType: TypeBoolean},
	{Name: "tags", Label: "Tags", Column: "tags", DataType: TypeArray},
	{Name: "lastOrderAt", Label: "Last order date", Column: "last_order_at", DataType: TypeDate},
	{Name: "lastContactAt", Label: "Last contact date", Column: "last_contact_at", DataType: TypeDate},
	{Name: "createdAt", Label: "Created date", Column: "created_at", DataType: TypeDate},
}

// columnByField is derived from the catalog at init time so the whitelist and
// the UI catalog are provably the same data.
var columnByField = func() map[string]string {
	m := make(map[string]string, len(catalog))
	for _, f := range catalog {
		m[f.Name] = f.Column
	}
	return m
}()

// fieldByName indexes the catalog for validation lookups.
var fieldByName = func() map[string]Field {
	m := make(map[string]Field, len(catalog))
	for _, f := range catalog {
		m[f.Name] = f
	}
	return m
}()

// Catalog returns the static field catalog for the segment builder.
// The returned slice is shared; callers must not mutate it.
func Catalog() []Field {
	return catalog
}

// LookupField returns the catalog entry for a logical field name.
func LookupField(name string) (Field, bool) {
	f, ok := fieldByName[name]
	return f, ok
}

// resolveColumn maps a logical field name to its physical column. Unmapped
// names pass through unchanged: the write-time validator is the trust
// boundary for external input, and internal callers may address columns
// directly.
func resolveColumn(field string) string {
	if col, ok := columnByField[field]; ok {
		return col
	}
	return field
}
