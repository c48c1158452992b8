package model

// Field names of an application record. Every other field on the record is a
// license key holding a serialized License.
const (
	FieldAppKey    = "app_key"
	FieldCreatedBy = "created_by"
	FieldPaused    = "paused"
)

// Stored values of the paused field.
const (
	PausedTrue  = "True"
	PausedFalse = "False"
)

// Application is a customer's registered product. Its app key is the sole
// handle for every license operation beneath it.
type Application struct {
	AppKey    string `json:"app_key"`
	CreatedBy string `json:"created_by"`
	Paused    bool   `json:"paused"`
}

// Fields returns the record fields that describe the application itself.
func (a Application) Fields() map[string]string {
	return map[string]string{
		FieldAppKey:    a.AppKey,
		FieldCreatedBy: a.CreatedBy,
		FieldPaused:    PausedValue(a.Paused),
	}
}

// PausedValue renders a paused flag the way it is stored.
func PausedValue(paused bool) string {
	if paused {
		return PausedTrue
	}
	return PausedFalse
}

// IsPaused interprets a stored paused value. A missing field means the
// application was never paused.
func IsPaused(v string) bool {
	return v == PausedTrue
}

// IsApplicationField reports whether a record field belongs to the
// application rather than to one of its license keys.
func IsApplicationField(field string) bool {
	switch field {
	case FieldAppKey, FieldCreatedBy, FieldPaused:
		return true
	}
	return false
}

// ApplicationFromFields builds an Application from its record fields.
func ApplicationFromFields(fields map[string]string) Application {
	return Application{
		AppKey:    fields[FieldAppKey],
		CreatedBy: fields[FieldCreatedBy],
		Paused:    IsPaused(fields[FieldPaused]),
	}
}

// ApplicationDetail is an application together with the licenses issued
// under it, ordered by license key.
type ApplicationDetail struct {
	Application
	Licenses []License `json:"licenses"`
}
